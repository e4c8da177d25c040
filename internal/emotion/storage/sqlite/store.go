// Package sqlite persists model artifacts and committed label events.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/feelscape/emotion-engine/internal/emotion"
)

const schema = `
CREATE TABLE IF NOT EXISTS model_artifacts (
	modality   TEXT NOT NULL,
	label_set  TEXT NOT NULL,
	input_dim  INTEGER NOT NULL,
	artifact   BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (modality, label_set)
);

CREATE TABLE IF NOT EXISTS label_events (
	event_id   TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	label      TEXT NOT NULL,
	confidence REAL NOT NULL,
	ts_nanos   INTEGER NOT NULL,
	fail_safe  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_label_events_ts ON label_events(ts_nanos);
`

// Store wraps a sqlite database holding model weight artifacts and the
// label-event journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at path. Use ":memory:" for
// an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// modelArtifact is the serialised weight blob. InputDim guards against
// loading weights into a model with a different shape.
type modelArtifact struct {
	InputDim int       `json:"input_dim"`
	Weights  []float64 `json:"weights"`
}

// SaveModel stores the model's current weights for its modality under the
// given label-set name, replacing any previous artifact.
func (s *Store) SaveModel(labelSet string, m emotion.Model, updatedAtUnixNanos int64) error {
	blob, err := json.Marshal(modelArtifact{
		InputDim: m.InputDim(),
		Weights:  m.Weights(),
	})
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO model_artifacts (modality, label_set, input_dim, artifact, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(modality, label_set) DO UPDATE SET
			input_dim = excluded.input_dim,
			artifact = excluded.artifact,
			updated_at = excluded.updated_at`,
		string(m.Modality()), labelSet, m.InputDim(), blob, updatedAtUnixNanos)
	if err != nil {
		return fmt.Errorf("save model artifact: %w", err)
	}
	return nil
}

// LoadModel restores saved weights into the model. Returns
// emotion.ErrNoModel when no artifact exists for the modality and label
// set, leaving the model untouched.
func (s *Store) LoadModel(labelSet string, m emotion.Model) error {
	var blob []byte
	err := s.db.QueryRow(`
		SELECT artifact FROM model_artifacts
		WHERE modality = ? AND label_set = ?`,
		string(m.Modality()), labelSet).Scan(&blob)
	if err == sql.ErrNoRows {
		return emotion.ErrNoModel
	}
	if err != nil {
		return fmt.Errorf("load model artifact: %w", err)
	}

	var artifact modelArtifact
	if err := json.Unmarshal(blob, &artifact); err != nil {
		return fmt.Errorf("decode model artifact: %w", err)
	}
	if artifact.InputDim != m.InputDim() {
		return fmt.Errorf("model artifact input dim %d does not match model %d: %w",
			artifact.InputDim, m.InputDim(), emotion.ErrDimensionMismatch)
	}
	return m.SetWeights(artifact.Weights)
}

// SaveEvent journals one committed label change.
func (s *Store) SaveEvent(sessionID string, ev emotion.LabelEvent) error {
	failSafe := 0
	if ev.FailSafe {
		failSafe = 1
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO label_events
			(event_id, session_id, label, confidence, ts_nanos, fail_safe)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, sessionID, string(ev.Label), ev.Confidence, ev.TSUnixNanos, failSafe)
	if err != nil {
		return fmt.Errorf("save label event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit journaled events, newest first.
func (s *Store) RecentEvents(limit int) ([]emotion.LabelEvent, error) {
	rows, err := s.db.Query(`
		SELECT event_id, label, confidence, ts_nanos, fail_safe
		FROM label_events
		ORDER BY ts_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query label events: %w", err)
	}
	defer rows.Close()

	var events []emotion.LabelEvent
	for rows.Next() {
		var ev emotion.LabelEvent
		var label string
		var failSafe int
		if err := rows.Scan(&ev.EventID, &label, &ev.Confidence, &ev.TSUnixNanos, &failSafe); err != nil {
			return nil, fmt.Errorf("scan label event: %w", err)
		}
		ev.Label = emotion.Label(label)
		ev.FailSafe = failSafe == 1
		events = append(events, ev)
	}
	return events, rows.Err()
}

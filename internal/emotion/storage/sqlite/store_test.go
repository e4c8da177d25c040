package sqlite

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/feelscape/emotion-engine/internal/emotion"
	"github.com/feelscape/emotion-engine/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestModelArtifactRoundTrip(t *testing.T) {
	store := newTestStore(t)

	m := emotion.NewPhysioNet(3)
	saved := m.Weights()
	testutil.AssertNoError(t, store.SaveModel("threeclass", m, 1))

	// Scramble the live model, then restore from the store.
	scrambled := make([]float64, len(saved))
	testutil.AssertNoError(t, m.SetWeights(scrambled))
	testutil.AssertNoError(t, store.LoadModel("threeclass", m))

	if diff := cmp.Diff(saved, m.Weights()); diff != "" {
		t.Errorf("weights did not round-trip (-saved +loaded):\n%s", diff)
	}
}

func TestModelArtifactReplaced(t *testing.T) {
	store := newTestStore(t)

	m := emotion.NewPhysioNet(3)
	testutil.AssertNoError(t, store.SaveModel("threeclass", m, 1))

	updated := make([]float64, len(m.Weights()))
	for i := range updated {
		updated[i] = float64(i)
	}
	testutil.AssertNoError(t, m.SetWeights(updated))
	testutil.AssertNoError(t, store.SaveModel("threeclass", m, 2))

	fresh := emotion.NewPhysioNet(3)
	testutil.AssertNoError(t, store.LoadModel("threeclass", fresh))
	if diff := cmp.Diff(updated, fresh.Weights()); diff != "" {
		t.Errorf("second save not loaded (-want +got):\n%s", diff)
	}
}

func TestLoadModelMissing(t *testing.T) {
	store := newTestStore(t)

	err := store.LoadModel("threeclass", emotion.NewPhysioNet(3))
	if !errors.Is(err, emotion.ErrNoModel) {
		t.Errorf("error = %v, want ErrNoModel", err)
	}
}

func TestLoadModelKeyedByLabelSet(t *testing.T) {
	store := newTestStore(t)

	testutil.AssertNoError(t, store.SaveModel("threeclass", emotion.NewPhysioNet(3), 1))

	// Same modality, different label set: no artifact.
	err := store.LoadModel("ekman", emotion.NewPhysioNet(6))
	if !errors.Is(err, emotion.ErrNoModel) {
		t.Errorf("error = %v, want ErrNoModel for other label set", err)
	}
}

func TestLoadModelRejectsShapeMismatch(t *testing.T) {
	store := newTestStore(t)

	// EEG artifacts for 4 channels must not load into a 2-channel net.
	testutil.AssertNoError(t, store.SaveModel("threeclass", emotion.NewEEGNet(4, 3), 1))
	err := store.LoadModel("threeclass", emotion.NewEEGNet(2, 3))
	if !errors.Is(err, emotion.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestEventJournal(t *testing.T) {
	store := newTestStore(t)

	events := []emotion.LabelEvent{
		{EventID: "a", Label: emotion.LabelNeutral, Confidence: 0.7, TSUnixNanos: 100},
		{EventID: "b", Label: emotion.LabelFear, Confidence: 0.85, TSUnixNanos: 200, FailSafe: true},
	}
	for _, ev := range events {
		testutil.AssertNoError(t, store.SaveEvent("session-1", ev))
	}

	got, err := store.RecentEvents(10)
	testutil.AssertNoError(t, err)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	// Newest first.
	if got[0].EventID != "b" || !got[0].FailSafe {
		t.Errorf("newest event = %+v, want fail-safe event b", got[0])
	}
	if got[1].Label != emotion.LabelNeutral {
		t.Errorf("oldest event label = %s, want NEUTRAL", got[1].Label)
	}
}

func TestEventJournalIdempotentByID(t *testing.T) {
	store := newTestStore(t)

	ev := emotion.LabelEvent{EventID: "dup", Label: emotion.LabelPositive, TSUnixNanos: 1}
	testutil.AssertNoError(t, store.SaveEvent("s", ev))
	testutil.AssertNoError(t, store.SaveEvent("s", ev))

	got, err := store.RecentEvents(10)
	testutil.AssertNoError(t, err)
	if len(got) != 1 {
		t.Errorf("got %d events after duplicate save, want 1", len(got))
	}
}

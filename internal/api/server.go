// Package api exposes the pipeline over HTTP: a polling endpoint for the
// current emotion state, a sample ingestion endpoint, and an echarts-based
// monitor page.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/feelscape/emotion-engine/internal/emotion"
	"github.com/feelscape/emotion-engine/internal/monitoring"
)

// Server wires the engine to HTTP handlers.
type Server struct {
	engine *emotion.Engine
	mux    *http.ServeMux
}

// NewServer creates the HTTP surface for an engine.
func NewServer(engine *emotion.Engine) *Server {
	s := &Server{
		engine: engine,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/emotion", s.handleEmotion)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/samples", s.handleSamples)
	s.mux.HandleFunc("/monitor", s.handleMonitor)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type emotionResponse struct {
	SessionID           string  `json:"session_id"`
	Label               string  `json:"label"`
	Confidence          float64 `json:"confidence"`
	Stale               bool    `json:"stale"`
	LastChangeUnixNanos int64   `json:"last_change_unix_nanos"`
}

// handleEmotion serves the polling endpoint: the committed label, its
// confidence and the stale flag.
func (s *Server) handleEmotion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := s.engine.Snapshot()
	writeJSON(w, emotionResponse{
		SessionID:           s.engine.SessionID(),
		Label:               string(state.Label),
		Confidence:          state.Confidence,
		Stale:               state.Stale,
		LastChangeUnixNanos: state.LastChangeUnixNanos,
	})
}

// handleEvents serves the recent committed label changes, oldest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	events := s.engine.History()
	if events == nil {
		events = []emotion.LabelEvent{}
	}
	writeJSON(w, events)
}

type sampleRequest struct {
	Stream      string  `json:"stream"`
	TSUnixNanos int64   `json:"ts_unix_nanos"`
	Value       float64 `json:"value"`
}

type samplesRequest struct {
	Samples []sampleRequest `json:"samples"`
}

// handleSamples ingests a batch of sensor readings. Unknown streams are
// accepted and ignored, matching the engine's behaviour.
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req samplesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode samples: %v", err), http.StatusBadRequest)
		return
	}

	for _, sample := range req.Samples {
		ts := sample.TSUnixNanos
		if ts == 0 {
			ts = time.Now().UnixNano()
		}
		s.engine.AddSample(emotion.StreamID(sample.Stream), emotion.Sample{
			TSUnixNanos: ts,
			Value:       sample.Value,
		})
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]int{"accepted": len(req.Samples)})
}

// handleMonitor renders the diagnostic page: a heart-rate trace with the
// committed label and recent changes in the subtitle.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	values, ts := s.engine.RecentHeartRate(300)

	xs := make([]string, len(values))
	points := make([]opts.LineData, len(values))
	for i, v := range values {
		xs[i] = time.Unix(0, ts[i]).Format("15:04:05")
		points[i] = opts.LineData{Value: v}
	}

	state := s.engine.Snapshot()
	subtitle := fmt.Sprintf("label: %s (%.2f)", state.Label, state.Confidence)
	if state.Stale {
		subtitle += " [stale]"
	}
	if events := s.engine.History(); len(events) > 0 {
		last := events[len(events)-1]
		subtitle += fmt.Sprintf(" | last change %s at %s",
			last.Label, last.Time().Format("15:04:05"))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Emotion engine monitor",
			Subtitle: subtitle,
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "BPM"}),
	)
	line.SetXAxis(xs).AddSeries("heart rate", points)

	if err := line.Render(w); err != nil {
		monitoring.Logf("render monitor page: %v", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("encode response: %v", err)
	}
}

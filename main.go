// Command emotion-engine runs the real-time emotion inference pipeline:
// it ingests EEG and physiological samples over HTTP, classifies them into
// a committed emotion label, journals label changes to sqlite, and serves
// a polling API plus a monitor page.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/feelscape/emotion-engine/internal/api"
	"github.com/feelscape/emotion-engine/internal/config"
	"github.com/feelscape/emotion-engine/internal/emotion"
	"github.com/feelscape/emotion-engine/internal/emotion/storage/sqlite"
	"github.com/feelscape/emotion-engine/internal/monitoring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "emotion-engine:", err)
		os.Exit(1)
	}
}

func run() error {
	listen := flag.String("listen", ":8080", "HTTP listen address")
	configPath := flag.String("config", "", "tuning config JSON (defaults apply when empty)")
	dbPath := flag.String("db", "emotion.db", "sqlite store for model artifacts and label events")
	labelSet := flag.String("labelset", "", "override label set: threeclass or ekman")
	strategy := flag.String("strategy", "", "override fusion strategy: late, early or hybrid")
	replay := flag.String("replay", "", "CSV file of samples (stream,ts_unix_nanos,value) to replay at startup")
	flag.Parse()

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *labelSet != "" {
		cfg.LabelSet = labelSet
	}
	if *strategy != "" {
		cfg.FusionStrategy = strategy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	set, ok := emotion.LabelSetByName(cfg.GetLabelSet())
	if !ok {
		return fmt.Errorf("unknown label set %q", cfg.GetLabelSet())
	}
	channels := emotion.DefaultEEGChannels

	eegModel := emotion.NewEEGNet(len(channels), set.Size())
	physioModel := emotion.NewPhysioNet(set.Size())
	var fusedModel emotion.Model
	switch emotion.FusionStrategy(cfg.GetFusionStrategy()) {
	case emotion.FusionEarly:
		fusedModel = emotion.NewEarlyFusionNet(emotion.EEGFeatureDim(len(channels)), emotion.PhysioFeatureDim, set.Size())
	case emotion.FusionHybrid:
		fusedModel = emotion.NewHybridNet(len(channels), set.Size())
	}

	for _, m := range []emotion.Model{eegModel, physioModel, fusedModel} {
		if m == nil {
			continue
		}
		switch err := store.LoadModel(set.Name, m); {
		case errors.Is(err, emotion.ErrNoModel):
			monitoring.Logf("no %s model artifact for %s; using untrained weights", m.Modality(), set.Name)
		case err != nil:
			return err
		}
	}

	engine, err := emotion.NewEngine(cfg, emotion.EngineOptions{
		EEGChannels: channels,
		EEGModel:    eegModel,
		PhysioModel: physioModel,
		FusedModel:  fusedModel,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.Run(ctx)
	go drainEvents(ctx, engine, store)

	if *replay != "" {
		if err := replaySamples(engine, *replay); err != nil {
			return fmt.Errorf("replay %s: %w", *replay, err)
		}
	}

	srv := &http.Server{
		Addr:         *listen,
		Handler:      api.NewServer(engine),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	monitoring.Logf("listening on %s (session %s)", *listen, engine.SessionID())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// drainEvents journals committed label changes until the context ends.
func drainEvents(ctx context.Context, engine *emotion.Engine, store *sqlite.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-engine.Events():
			if err := store.SaveEvent(engine.SessionID(), ev); err != nil {
				monitoring.Logf("journal label event %s: %v", ev.EventID, err)
			}
		}
	}
}

// replaySamples feeds a recorded session into the running engine. Rows are
// stream,ts_unix_nanos,value; a header row is skipped.
func replaySamples(engine *emotion.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	fed := 0
	for i, row := range rows {
		ts, tsErr := strconv.ParseInt(row[1], 10, 64)
		value, valueErr := strconv.ParseFloat(row[2], 64)
		if tsErr != nil || valueErr != nil {
			if i == 0 {
				continue // header
			}
			return fmt.Errorf("row %d: bad sample %q", i+1, row)
		}
		engine.AddSample(emotion.StreamID(row[0]), emotion.Sample{
			TSUnixNanos: ts,
			Value:       value,
		})
		fed++
	}

	monitoring.Logf("replayed %d samples from %s", fed, path)
	return nil
}

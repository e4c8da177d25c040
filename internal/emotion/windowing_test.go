package emotion

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/feelscape/emotion-engine/internal/timeutil"
)

func newTestBuffer(t *testing.T, groups ...StreamGroup) (*WindowBuffer, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	wb, err := NewWindowBuffer(clock, groups...)
	if err != nil {
		t.Fatalf("NewWindowBuffer: %v", err)
	}
	return wb, clock
}

func eegTestGroup() StreamGroup {
	return StreamGroup{
		Modality:      ModalityEEG,
		ChannelNames:  []string{"TP9", "AF7"},
		StreamIDs:     []StreamID{EEGStreamID("TP9"), EEGStreamID("AF7")},
		SampleRateHz:  4,
		WindowSamples: 4,
		StepSamples:   2, // 50% overlap
		Capacity:      16,
	}
}

func TestWindowBufferNotReadyUntilFull(t *testing.T) {
	wb, _ := newTestBuffer(t, eegTestGroup())

	for i := 0; i < 3; i++ {
		wb.Push(EEGStreamID("TP9"), Sample{TSUnixNanos: int64(i), Value: float64(i)})
		wb.Push(EEGStreamID("AF7"), Sample{TSUnixNanos: int64(i), Value: float64(i) * 10})
	}

	if _, ok := wb.TryBuildWindow(ModalityEEG); ok {
		t.Fatal("window built with only 3 of 4 samples")
	}

	wb.Push(EEGStreamID("TP9"), Sample{TSUnixNanos: 3, Value: 3})
	if _, ok := wb.TryBuildWindow(ModalityEEG); ok {
		t.Fatal("window built while the slowest stream lags")
	}

	wb.Push(EEGStreamID("AF7"), Sample{TSUnixNanos: 3, Value: 30})
	w, ok := wb.TryBuildWindow(ModalityEEG)
	if !ok {
		t.Fatal("window not built with all streams full")
	}

	want := [][]float64{{0, 1, 2, 3}, {0, 10, 20, 30}}
	if diff := cmp.Diff(want, w.Data); diff != "" {
		t.Errorf("window data mismatch (-want +got):\n%s", diff)
	}
	if w.SamplesPerChan != 4 || w.StartUnixNanos != 0 || w.EndUnixNanos != 3 {
		t.Errorf("window bounds = %d samples [%d, %d]", w.SamplesPerChan, w.StartUnixNanos, w.EndUnixNanos)
	}
}

func TestWindowBufferOverlapPacing(t *testing.T) {
	wb, _ := newTestBuffer(t, eegTestGroup())

	push := func(n int) {
		for i := 0; i < n; i++ {
			wb.Push(EEGStreamID("TP9"), Sample{Value: 1})
			wb.Push(EEGStreamID("AF7"), Sample{Value: 1})
		}
	}

	push(4)
	if _, ok := wb.TryBuildWindow(ModalityEEG); !ok {
		t.Fatal("first window not built")
	}
	if _, ok := wb.TryBuildWindow(ModalityEEG); ok {
		t.Fatal("second window built without new samples")
	}

	// With step 2, two fresh samples advance one window.
	push(2)
	if _, ok := wb.TryBuildWindow(ModalityEEG); !ok {
		t.Fatal("overlapping window not built after step worth of samples")
	}
}

func TestWindowBufferCatchUpAfterEviction(t *testing.T) {
	wb, _ := newTestBuffer(t, eegTestGroup())

	// Push far more than capacity without consuming; the group must skip
	// forward instead of serving evicted data.
	for i := 0; i < 100; i++ {
		wb.Push(EEGStreamID("TP9"), Sample{TSUnixNanos: int64(i), Value: float64(i)})
		wb.Push(EEGStreamID("AF7"), Sample{TSUnixNanos: int64(i), Value: float64(i)})
	}

	w, ok := wb.TryBuildWindow(ModalityEEG)
	if !ok {
		t.Fatal("window not built after burst")
	}
	if w.Data[0][0] != 84 {
		t.Errorf("window starts at value %g, want 84 (oldest retained)", w.Data[0][0])
	}
}

func TestWindowBufferUnknownStreamIgnored(t *testing.T) {
	wb, _ := newTestBuffer(t, eegTestGroup())
	wb.Push("eeg/unconfigured", Sample{Value: 1}) // must not panic
	if wb.Stream("eeg/unconfigured") != nil {
		t.Error("unknown stream should not be registered")
	}
}

func TestWindowBufferStalled(t *testing.T) {
	wb, clock := newTestBuffer(t, eegTestGroup())

	// Never received a sample: stall counts from creation.
	if wb.Stalled(ModalityEEG, time.Second) {
		t.Fatal("stalled immediately after creation")
	}
	clock.Advance(2 * time.Second)
	if !wb.Stalled(ModalityEEG, time.Second) {
		t.Fatal("not stalled with no samples past timeout")
	}

	wb.Push(EEGStreamID("TP9"), Sample{Value: 1})
	if wb.Stalled(ModalityEEG, time.Second) {
		t.Fatal("stalled right after a push")
	}

	clock.Advance(3 * time.Second)
	if !wb.Stalled(ModalityEEG, time.Second) {
		t.Fatal("not stalled after quiet period")
	}
}

func TestWindowBufferReset(t *testing.T) {
	wb, _ := newTestBuffer(t, eegTestGroup())

	for i := 0; i < 4; i++ {
		wb.Push(EEGStreamID("TP9"), Sample{Value: 1})
		wb.Push(EEGStreamID("AF7"), Sample{Value: 1})
	}
	wb.Reset()

	if _, ok := wb.TryBuildWindow(ModalityEEG); ok {
		t.Fatal("window built from reset buffer")
	}
	if got := wb.Stream(EEGStreamID("TP9")).Total(); got != 0 {
		t.Errorf("stream total after reset = %d, want 0", got)
	}
}

func TestNewWindowBufferValidation(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	bad := eegTestGroup()
	bad.Capacity = 2 // below window size
	if _, err := NewWindowBuffer(clock, bad); err == nil {
		t.Error("capacity below window size accepted")
	}

	dup := eegTestGroup()
	if _, err := NewWindowBuffer(clock, eegTestGroup(), dup); err == nil {
		t.Error("duplicate stream IDs accepted")
	}
}

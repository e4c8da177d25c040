package emotion

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/feelscape/emotion-engine/internal/timeutil"
)

// StreamGroup describes the channel streams that feed one modality's
// windows, and how those windows are paced.
type StreamGroup struct {
	Modality      Modality
	ChannelNames  []string // row order of emitted windows
	StreamIDs     []StreamID
	SampleRateHz  float64
	WindowSamples int
	StepSamples   int // == WindowSamples for non-overlapping windows
	Capacity      int // ring capacity per stream (retention horizon)
}

// WindowBuffer owns the channel streams and builds fixed-size, possibly
// overlapping windows per modality. Pushes are O(1) and lock only the
// target stream; window construction reads streams independently.
type WindowBuffer struct {
	clock timeutil.Clock

	// mu guards the stream map and group pacing state. Pushes take only
	// the read lock plus the target stream's own mutex, so concurrent
	// producers stay independent.
	mu      sync.RWMutex
	streams map[StreamID]*ChannelStream
	groups  map[Modality]*groupState
	created int64 // unix nanos, stall reference before any sample arrives
}

type groupState struct {
	spec      StreamGroup
	nextStart int64 // absolute sample index of the next window start
}

// NewWindowBuffer creates a buffer for the given stream groups.
func NewWindowBuffer(clock timeutil.Clock, groups ...StreamGroup) (*WindowBuffer, error) {
	wb := &WindowBuffer{
		clock:   clock,
		streams: make(map[StreamID]*ChannelStream),
		groups:  make(map[Modality]*groupState),
		created: clock.Now().UnixNano(),
	}
	for _, g := range groups {
		if len(g.StreamIDs) == 0 || len(g.StreamIDs) != len(g.ChannelNames) {
			return nil, fmt.Errorf("stream group %s: channel names and stream IDs must align", g.Modality)
		}
		if g.WindowSamples <= 0 || g.StepSamples <= 0 {
			return nil, fmt.Errorf("stream group %s: window and step must be positive", g.Modality)
		}
		if g.Capacity < g.WindowSamples {
			return nil, fmt.Errorf("stream group %s: capacity %d below window size %d", g.Modality, g.Capacity, g.WindowSamples)
		}
		for _, id := range g.StreamIDs {
			if _, dup := wb.streams[id]; dup {
				return nil, fmt.Errorf("stream %s registered twice", id)
			}
			wb.streams[id] = NewChannelStream(id, g.Capacity)
		}
		wb.groups[g.Modality] = &groupState{spec: g}
	}
	return wb, nil
}

// Push appends a sample to the named stream. Unknown streams are ignored;
// sensors may ship auxiliary channels the pipeline is not configured for.
func (wb *WindowBuffer) Push(id StreamID, s Sample) {
	wb.mu.RLock()
	stream, ok := wb.streams[id]
	wb.mu.RUnlock()
	if !ok {
		return
	}
	stream.Push(s, wb.clock.Now().UnixNano())
}

// Stream returns the named channel stream, or nil.
func (wb *WindowBuffer) Stream(id StreamID) *ChannelStream {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return wb.streams[id]
}

// TryBuildWindow returns the next window for the modality if enough fresh
// samples have accumulated on every one of its streams. Absence of data is
// routine: the second return is false, with no error.
func (wb *WindowBuffer) TryBuildWindow(modality Modality) (Window, bool) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	g, ok := wb.groups[modality]
	if !ok {
		return Window{}, false
	}

	// The group advances at the pace of its slowest stream, and can never
	// reach back before the oldest retained sample of its most-evicted one.
	minTotal := int64(math.MaxInt64)
	maxOldest := int64(0)
	for _, id := range g.spec.StreamIDs {
		stream := wb.streams[id]
		if t := stream.Total(); t < minTotal {
			minTotal = t
		}
		if o := stream.OldestAvailable(); o > maxOldest {
			maxOldest = o
		}
	}

	start := g.nextStart
	if start < maxOldest {
		// Fell behind the retention horizon (consumer stall or burst);
		// skip forward rather than serving evicted data.
		start = maxOldest
	}

	if minTotal < start+int64(g.spec.WindowSamples) {
		return Window{}, false
	}

	w := Window{
		Modality:       modality,
		Channels:       append([]string(nil), g.spec.ChannelNames...),
		Data:           make([][]float64, len(g.spec.StreamIDs)),
		SampleRateHz:   g.spec.SampleRateHz,
		SamplesPerChan: g.spec.WindowSamples,
	}
	for i, id := range g.spec.StreamIDs {
		values, ts, ok := wb.streams[id].Range(start, g.spec.WindowSamples)
		if !ok {
			// Evicted between the bounds check and the copy; treat as
			// not ready and let the next tick realign.
			return Window{}, false
		}
		w.Data[i] = values
		if i == 0 {
			w.StartUnixNanos = ts[0]
			w.EndUnixNanos = ts[len(ts)-1]
		}
	}

	g.nextStart = start + int64(g.spec.StepSamples)
	return w, true
}

// Stalled reports whether the modality's streams have gone quiet: no sample
// on any of its streams within the timeout. A modality that has never
// received a sample counts from buffer creation.
func (wb *WindowBuffer) Stalled(modality Modality, timeout time.Duration) bool {
	wb.mu.RLock()
	defer wb.mu.RUnlock()

	g, ok := wb.groups[modality]
	if !ok {
		return true
	}

	newest := int64(0)
	for _, id := range g.spec.StreamIDs {
		if lp := wb.streams[id].LastPushUnixNanos(); lp > newest {
			newest = lp
		}
	}
	if newest == 0 {
		newest = wb.created
	}
	return wb.clock.Now().UnixNano()-newest > timeout.Nanoseconds()
}

// Reset discards all buffered samples and window pacing state.
func (wb *WindowBuffer) Reset() {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	for id, s := range wb.streams {
		wb.streams[id] = NewChannelStream(id, s.Capacity())
	}
	for _, g := range wb.groups {
		g.nextStart = 0
	}
	wb.created = wb.clock.Now().UnixNano()
}

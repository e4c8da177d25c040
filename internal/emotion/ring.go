package emotion

import "sync"

// ChannelStream is an append-only sequence of samples for one physical
// channel, bounded by a fixed-capacity ring buffer. Appends evict the
// oldest sample once the retention horizon is full, in O(1).
//
// Each stream carries its own mutex so producers writing different streams
// never contend with each other, and a reader of one stream never blocks a
// writer of another.
type ChannelStream struct {
	mu       sync.Mutex
	id       StreamID
	values   []float64
	ts       []int64
	head     int   // index of the next write slot
	count    int   // number of valid samples, <= capacity
	total    int64 // absolute count of samples ever appended
	lastPush int64 // wall-clock unix nanos of the most recent Push
}

// NewChannelStream creates a stream with the given ring capacity.
func NewChannelStream(id StreamID, capacity int) *ChannelStream {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelStream{
		id:     id,
		values: make([]float64, capacity),
		ts:     make([]int64, capacity),
	}
}

// ID returns the stream identifier.
func (s *ChannelStream) ID() StreamID { return s.id }

// Capacity returns the ring capacity.
func (s *ChannelStream) Capacity() int { return len(s.values) }

// Push appends a sample, evicting the oldest if the ring is full.
// nowUnixNanos is the ingest wall-clock time used for stall detection.
func (s *ChannelStream) Push(sample Sample, nowUnixNanos int64) {
	s.mu.Lock()
	s.values[s.head] = sample.Value
	s.ts[s.head] = sample.TSUnixNanos
	s.head = (s.head + 1) % len(s.values)
	if s.count < len(s.values) {
		s.count++
	}
	s.total++
	s.lastPush = nowUnixNanos
	s.mu.Unlock()
}

// Total returns the absolute number of samples ever appended.
func (s *ChannelStream) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// LastPushUnixNanos returns the ingest time of the newest sample, or zero
// if the stream has never received one.
func (s *ChannelStream) LastPushUnixNanos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPush
}

// OldestAvailable returns the absolute index of the oldest sample still
// retained in the ring.
func (s *ChannelStream) OldestAvailable() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total - int64(s.count)
}

// Range copies n samples starting at absolute index start into values and
// timestamps slices. It returns false if any requested sample has been
// evicted or has not yet arrived.
func (s *ChannelStream) Range(start int64, n int) (values []float64, tsUnixNanos []int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldest := s.total - int64(s.count)
	if start < oldest || start+int64(n) > s.total || n <= 0 {
		return nil, nil, false
	}

	values = make([]float64, n)
	tsUnixNanos = make([]int64, n)
	// Physical index of absolute sample i: (head - (total - i)) mod cap.
	cap := int64(len(s.values))
	for i := 0; i < n; i++ {
		abs := start + int64(i)
		phys := (int64(s.head) - (s.total - abs)) % cap
		if phys < 0 {
			phys += cap
		}
		values[i] = s.values[phys]
		tsUnixNanos[i] = s.ts[phys]
	}
	return values, tsUnixNanos, true
}

// Tail copies the newest n samples (fewer if the stream holds fewer).
func (s *ChannelStream) Tail(n int) (values []float64, tsUnixNanos []int64) {
	s.mu.Lock()
	count := s.count
	total := s.total
	s.mu.Unlock()

	if n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	values, tsUnixNanos, _ = s.Range(total-int64(n), n)
	return values, tsUnixNanos
}

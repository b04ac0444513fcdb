package streamsync

import (
	"sync"

	"github.com/banshee-data/fusiontrack/internal/monitoring"
)

// StreamFrame is one frame from one input stream. Immutable once
// enqueued.
type StreamFrame struct {
	StreamIndex    int
	TimestampNanos int64
	Payload        []byte
}

// SynchronizedGroup is a time-aligned set of frames, at most one per
// stream, covering at least the configured minimum number of streams.
// Frames are ordered by stream index. RepresentativeNanos is the latest
// timestamp among the matched frames.
type SynchronizedGroup struct {
	RepresentativeNanos int64
	Frames              []StreamFrame
}

// Config holds configuration for the Synchronizer.
type Config struct {
	// NumStreams is the total number of input streams (cameras plus
	// optional mask streams).
	NumStreams int

	// NumPrimaryStreams marks streams [0, NumPrimaryStreams) as the
	// camera streams; only they count toward MinRequiredStreams.
	// Streams at or past the boundary are auxiliary (masks) and ride
	// along in a group when they match but never make one ready on
	// their own. Zero means every stream counts.
	NumPrimaryStreams int

	// MatchingThresholdNanos is the maximum allowed span between the
	// earliest and latest timestamp in a group.
	MatchingThresholdNanos int64

	// MinRequiredStreams is the number of primary streams that must
	// contribute a frame before a group is emitted. Defaults to
	// NumPrimaryStreams; set lower when cameras may lag or drop out.
	MinRequiredStreams int

	// BufferSize is the per-stream queue capacity. On overflow the
	// oldest frame in that queue is dropped. Default: 100.
	BufferSize int

	// Callback receives each emitted group, invoked synchronously inside
	// the AddMessage call that completed the match.
	Callback func(group SynchronizedGroup)
}

// Synchronizer buffers frames per stream and emits a SynchronizedGroup
// whenever a timestamp-compatible combination exists.
//
// AddMessage is safe to call concurrently from one goroutine per stream;
// matching and removal happen under an internal lock, and the callback
// runs outside it so the group handoff cannot deadlock against another
// stream's insert.
type Synchronizer struct {
	cfg    Config
	mu     sync.Mutex
	queues [][]StreamFrame

	dropped uint64 // frames discarded by overflow, for logging cadence
}

// New creates a Synchronizer with the given configuration.
func New(cfg Config) *Synchronizer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.NumPrimaryStreams <= 0 || cfg.NumPrimaryStreams > cfg.NumStreams {
		cfg.NumPrimaryStreams = cfg.NumStreams
	}
	if cfg.MinRequiredStreams <= 0 || cfg.MinRequiredStreams > cfg.NumPrimaryStreams {
		cfg.MinRequiredStreams = cfg.NumPrimaryStreams
	}
	queues := make([][]StreamFrame, cfg.NumStreams)
	for i := range queues {
		queues[i] = make([]StreamFrame, 0, cfg.BufferSize)
	}
	return &Synchronizer{cfg: cfg, queues: queues}
}

// AddMessage enqueues one frame and, if a timestamp-compatible
// combination now exists, emits exactly one group via the callback.
func (s *Synchronizer) AddMessage(streamIndex int, timestampNanos int64, payload []byte) {
	if streamIndex < 0 || streamIndex >= s.cfg.NumStreams {
		monitoring.Logf("[StreamSync] Rejecting frame for unknown stream %d (have %d streams)",
			streamIndex, s.cfg.NumStreams)
		return
	}

	s.mu.Lock()
	q := s.queues[streamIndex]
	if len(q) >= s.cfg.BufferSize {
		// Absorb backpressure by discarding stale data, never by
		// blocking the producer.
		s.dropped++
		if s.dropped%100 == 1 {
			monitoring.Logf("[StreamSync] Stream %d buffer full, dropped oldest frame ts=%d (%d total drops)",
				streamIndex, q[0].TimestampNanos, s.dropped)
		}
		copy(q, q[1:])
		q = q[:len(q)-1]
	}
	q = append(q, StreamFrame{
		StreamIndex:    streamIndex,
		TimestampNanos: timestampNanos,
		Payload:        payload,
	})
	s.queues[streamIndex] = q

	group, ok := s.takeBestMatch()
	s.mu.Unlock()

	if ok && s.cfg.Callback != nil {
		s.cfg.Callback(group)
	}
}

// PendingCounts returns the current queue depth per stream.
func (s *Synchronizer) PendingCounts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make([]int, len(s.queues))
	for i, q := range s.queues {
		counts[i] = len(q)
	}
	return counts
}

// candidate is one evaluated combination during the match search.
type candidate struct {
	picks          []int // per stream, index into the queue or -1
	matched        int   // picks across all streams
	primary        int   // picks on primary streams only
	span           int64
	representative int64
}

// takeBestMatch searches all queues for the combination of at most one
// frame per stream whose timestamp span fits the matching threshold,
// preferring minimal span and, on ties, the earliest representative
// timestamp. On success the chosen frames are removed from their queues.
// Caller must hold s.mu.
func (s *Synchronizer) takeBestMatch() (SynchronizedGroup, bool) {
	var best *candidate

	// Every buffered frame is a potential anchor; for each anchor pick
	// the closest frame per stream and keep only picks inside the span
	// window around the anchor. Queues are small (BufferSize entries) so
	// the quadratic scan stays cheap.
	for _, anchorQueue := range s.queues {
		for _, anchor := range anchorQueue {
			c := s.evaluateAnchor(anchor.TimestampNanos)
			if c == nil {
				continue
			}
			if best == nil ||
				c.span < best.span ||
				(c.span == best.span && c.representative < best.representative) {
				best = c
			}
		}
	}

	if best == nil {
		return SynchronizedGroup{}, false
	}

	group := SynchronizedGroup{
		RepresentativeNanos: best.representative,
		Frames:              make([]StreamFrame, 0, best.matched),
	}
	for idx, pick := range best.picks {
		if pick < 0 {
			continue
		}
		group.Frames = append(group.Frames, s.queues[idx][pick])
		s.queues[idx] = append(s.queues[idx][:pick], s.queues[idx][pick+1:]...)
	}
	return group, true
}

// evaluateAnchor builds the best combination centred on one anchor
// timestamp, or nil when too few streams can contribute.
func (s *Synchronizer) evaluateAnchor(anchor int64) *candidate {
	c := &candidate{picks: make([]int, len(s.queues))}
	var minTS, maxTS int64

	for idx, q := range s.queues {
		c.picks[idx] = -1
		bestDelta := int64(-1)
		for i, f := range q {
			delta := f.TimestampNanos - anchor
			if delta < 0 {
				delta = -delta
			}
			if delta > s.cfg.MatchingThresholdNanos {
				continue
			}
			if bestDelta < 0 || delta < bestDelta {
				bestDelta = delta
				c.picks[idx] = i
			}
		}
		if c.picks[idx] < 0 {
			continue
		}
		ts := q[c.picks[idx]].TimestampNanos
		if c.matched == 0 || ts < minTS {
			minTS = ts
		}
		if c.matched == 0 || ts > maxTS {
			maxTS = ts
		}
		c.matched++
		if idx < s.cfg.NumPrimaryStreams {
			c.primary++
		}
	}

	if c.primary < s.cfg.MinRequiredStreams {
		return nil
	}
	if maxTS-minTS > s.cfg.MatchingThresholdNanos {
		return nil
	}
	c.span = maxTS - minTS
	c.representative = maxTS
	return c
}

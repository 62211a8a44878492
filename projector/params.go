package projector

import "time"

// TransportLimits describes the destination transport so chunk sizing
// never produces a message it cannot carry.
type TransportLimits struct {
	// MaxMessageChars caps a single outbound message. Zero means the
	// default room transport size.
	MaxMessageChars int
}

// StreamParams sizes the chunker, the live-mode flush heuristics and
// the send pipeline for one conversation.
type StreamParams struct {
	// MinChunkChars is the smallest piece a non-forced drain emits.
	MinChunkChars int
	// MaxChunkChars caps one piece and doubles as the hard-boundary
	// ceiling for the live buffer.
	MaxChunkChars int
	// IdleMinChars is how much buffered text satisfies the idle-flush
	// heuristic on its own.
	IdleMinChars int
	// IdleFlush is the idle timer duration.
	IdleFlush time.Duration
	// CoalesceWindow is how long the pipeline batches small payloads.
	CoalesceWindow time.Duration
	// Joiner goes between text payloads merged by the pipeline.
	Joiner string
}

const (
	defaultMessageChars = 4000
	liveChunkCeiling    = 2000
	idleFlushFloor      = 250 * time.Millisecond
)

// ResolveStreamParams derives sizing for the active mode. Live mode
// favors responsiveness: a near-zero minimum so every drain empties the
// buffer, an empty joiner to preserve exact spacing across fragments,
// and a short coalesce window. Final-only mode favors few, large
// messages: big minimum, paragraph joiner, relaxed window.
func ResolveStreamParams(mode Mode, limits TransportLimits) StreamParams {
	max := limits.MaxMessageChars
	if max <= 0 {
		max = defaultMessageChars
	}
	var p StreamParams
	if mode == ModeLive {
		if max > liveChunkCeiling {
			max = liveChunkCeiling
		}
		p = StreamParams{
			MinChunkChars:  1,
			MaxChunkChars:  max,
			IdleMinChars:   48,
			IdleFlush:      900 * time.Millisecond,
			CoalesceWindow: 250 * time.Millisecond,
			Joiner:         "",
		}
	} else {
		p = StreamParams{
			MinChunkChars:  max / 4,
			MaxChunkChars:  max,
			IdleMinChars:   max / 4,
			IdleFlush:      2 * time.Second,
			CoalesceWindow: time.Second,
			Joiner:         "\n\n",
		}
	}
	if p.MinChunkChars < 1 {
		p.MinChunkChars = 1
	}
	if p.IdleMinChars < 1 {
		p.IdleMinChars = 1
	}
	if p.IdleFlush < idleFlushFloor {
		p.IdleFlush = idleFlushFloor
	}
	return p
}

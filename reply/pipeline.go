package reply

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nicebartender/relay-server/clock"
)

// SendPipeline batches outbound payloads so the transport sees a few
// well-sized messages instead of a burst of fragments. Adjacent text
// payloads merge (joined with the configured joiner) while the merged
// size stays within the ceiling; tool and block payloads never merge.
// Everything drains in enqueue order.
type SendPipeline struct {
	maxChars int
	joiner   string
	window   time.Duration
	deliver  DeliverFunc
	clk      clock.Clock

	mu       sync.Mutex
	queue    []Payload
	timer    clock.Timer
	timerGen uint64
}

// NewSendPipeline builds a pipeline over a delivery callback. maxChars
// caps a single merged payload; window is how long small payloads wait
// for company before going out.
func NewSendPipeline(maxChars int, joiner string, window time.Duration, deliver DeliverFunc, clk clock.Clock) *SendPipeline {
	if maxChars < 1 {
		maxChars = 1
	}
	if clk == nil {
		clk = clock.System()
	}
	return &SendPipeline{
		maxChars: maxChars,
		joiner:   joiner,
		window:   window,
		deliver:  deliver,
		clk:      clk,
	}
}

// Enqueue adds a payload, merging text into the previous queued text
// payload when the joined size fits. A payload that reaches the size
// ceiling drains the queue immediately; otherwise the coalesce window
// is armed and delivery happens when it expires.
func (s *SendPipeline) Enqueue(ctx context.Context, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := false
	if p.Kind == KindText && len(s.queue) > 0 {
		tail := &s.queue[len(s.queue)-1]
		if tail.Kind == KindText {
			joined := tail.Text + s.joiner + p.Text
			if utf8.RuneCountInString(joined) <= s.maxChars {
				tail.Text = joined
				merged = true
			}
		}
	}
	if !merged {
		s.queue = append(s.queue, p)
	}
	if utf8.RuneCountInString(s.queue[len(s.queue)-1].Text) >= s.maxChars {
		return s.drainLocked(ctx)
	}
	s.armLocked()
	return nil
}

// Flush drains synchronously when force is set. Without force delivery
// stays with the coalesce window.
func (s *SendPipeline) Flush(ctx context.Context, force bool) error {
	if !force {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked(ctx)
}

// Pending reports how many payloads are queued.
func (s *SendPipeline) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// drainLocked delivers every queued payload in order. The first
// rejection or error stops the drain; the failed payload is not retried
// and later payloads stay queued for the next flush.
func (s *SendPipeline) drainLocked(ctx context.Context) error {
	s.cancelTimerLocked()
	for len(s.queue) > 0 {
		p := s.queue[0]
		s.queue = s.queue[1:]
		ok, err := s.deliver(ctx, p.Kind, p.Text, p.Meta)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRejected
		}
	}
	return nil
}

// armLocked starts the coalesce window if it is not already running.
func (s *SendPipeline) armLocked() {
	if s.timer != nil {
		return
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clk.AfterFunc(s.window, func() { s.onWindow(gen) })
}

func (s *SendPipeline) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// onWindow runs on the timer goroutine when the coalesce window
// expires. Stale timers (superseded by a synchronous drain) are no-ops.
func (s *SendPipeline) onWindow(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen {
		return
	}
	s.timer = nil
	if err := s.drainLocked(context.Background()); err != nil {
		slog.Warn("reply: coalesced send failed", "err", err)
	}
}

// Package projector turns the raw event stream of one agent turn into
// a bounded, deduplicated sequence of chat deliveries.
//
// One Projector serves one conversation. Events enter through OnEvent,
// one at a time; accepted text flows through an injected Chunker into
// an injected Pipeline, and tool or status notices go to the Pipeline
// directly. All per-turn bookkeeping lives in a single turnState that
// is rebuilt when the turn ends.
package projector

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/nicebartender/relay-server/agentwire"
	"github.com/nicebartender/relay-server/clock"
	"github.com/nicebartender/relay-server/reply"
)

// Chunker splits accepted text into transport-sized pieces.
type Chunker interface {
	Append(text string)
	Drain(force bool, emit func(chunk string))
}

// Pipeline coalesces and delivers finished payloads in order.
type Pipeline interface {
	Enqueue(ctx context.Context, p reply.Payload) error
	Flush(ctx context.Context, force bool) error
}

// truncationNotice is what readers see when a turn hits its character
// budget.
const truncationNotice = "[output truncated: turn limit reached]"

// toolLifecycle records what has already gone out for one tool call id.
type toolLifecycle struct {
	started  bool
	terminal bool
	lastHash string
}

type usageKey struct {
	used int
	size int
}

// turnState is every piece of per-turn bookkeeping, owned exclusively
// by the projector and discarded wholesale when the turn ends.
type turnState struct {
	emittedTurnChars  int
	emittedMetaEvents int
	truncationNoticed bool

	lastStatusHash string
	lastToolHash   string
	lastUsage      *usageKey
	lastOutputTail rune

	pendingHiddenBoundary bool
	liveBuffer            string
	pendingMeta           []reply.Payload
	toolCalls             map[string]*toolLifecycle
}

func newTurnState() turnState {
	return turnState{toolCalls: make(map[string]*toolLifecycle)}
}

// Projector is the stateful event processor for one conversation.
type Projector struct {
	settings Settings
	params   StreamParams
	chunker  Chunker
	pipeline Pipeline
	clk      clock.Clock

	mu        sync.Mutex
	turn      turnState
	idleTimer clock.Timer
	idleGen   uint64
}

// New builds a projector over its collaborators. The chunker and
// pipeline must be sized with the same StreamParams.
func New(settings Settings, params StreamParams, chunker Chunker, pipeline Pipeline, clk clock.Clock) *Projector {
	if clk == nil {
		clk = clock.System()
	}
	return &Projector{
		settings: settings,
		params:   params,
		chunker:  chunker,
		pipeline: pipeline,
		clk:      clk,
		turn:     newTurnState(),
	}
}

// OnEvent feeds one agent event through visibility, budget and dedup
// policy. The caller must serialize OnEvent calls; any delivery the
// event triggers happens before OnEvent returns, except live-mode text
// held back for the idle timer.
//
// A Done or Error event forces a full flush and resets all turn state.
// A delivery failure propagates without rolling back counters or
// fingerprints: deliveries are at-most-once per attempt.
func (p *Projector) OnEvent(ctx context.Context, ev agentwire.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := ev.(type) {
	case agentwire.TextDelta:
		return p.onTextLocked(ctx, ev)
	case agentwire.Status:
		return p.onStatusLocked(ctx, ev)
	case agentwire.ToolCall:
		return p.onToolCallLocked(ctx, ev)
	case agentwire.Done:
		return p.endTurnLocked(ctx)
	case agentwire.Error:
		if ev.Message != "" {
			slog.Warn("projector: turn ended with agent error", "err", ev.Message)
		}
		return p.endTurnLocked(ctx)
	default:
		return fmt.Errorf("projector: unknown event %T", ev)
	}
}

// Flush pushes everything buffered toward the transport. With force set
// it also releases final-only meta deliveries and empties the chunker
// and pipeline completely; without force, undersized tails stay behind
// for a later flush.
func (p *Projector) Flush(ctx context.Context, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx, force)
}

func (p *Projector) onTextLocked(ctx context.Context, ev agentwire.TextDelta) error {
	if ev.Stream != agentwire.StreamOutput {
		return nil
	}
	if !p.settings.Visible(ev.Tag) {
		return nil
	}

	// The boundary flag clears on every visible-text event, whether or
	// not a separator actually goes in.
	fragment := ev.Text
	if p.turn.pendingHiddenBoundary {
		p.turn.pendingHiddenBoundary = false
		fragment = p.separatorForLocked(fragment) + fragment
	}
	if fragment == "" {
		return nil
	}

	runes := []rune(fragment)
	remaining := p.settings.MaxTurnChars - p.turn.emittedTurnChars
	if remaining < 0 {
		remaining = 0
	}
	truncated := len(runes) > remaining
	if truncated {
		runes = runes[:remaining]
	}

	var err error
	if len(runes) > 0 {
		p.turn.emittedTurnChars += len(runes)
		p.turn.lastOutputTail = runes[len(runes)-1]
		err = p.acceptTextLocked(ctx, string(runes))
	}
	if truncated && !p.turn.truncationNoticed {
		p.turn.truncationNoticed = true
		nerr := p.deliverMetaLocked(ctx, reply.Payload{
			Kind: reply.KindBlock,
			Text: truncationNotice,
			Meta: reply.Meta{Tag: agentwire.TagSessionInfo},
		}, true)
		if err == nil {
			err = nerr
		}
	}
	return err
}

// separatorForLocked decides what goes in front of the next visible
// fragment after hidden tool activity. Nothing is inserted when the
// separator would double up whitespace on either side, or when no text
// has been emitted yet this turn.
func (p *Projector) separatorForLocked(next string) string {
	sep := p.settings.Separator.Text()
	if sep == "" || next == "" {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(next)
	if unicode.IsSpace(first) {
		return ""
	}
	if p.turn.lastOutputTail == 0 || unicode.IsSpace(p.turn.lastOutputTail) {
		return ""
	}
	return sep
}

// acceptTextLocked routes budget-approved text into the live buffer or
// straight into the chunker, depending on mode. Final-only text only
// leaves the chunker on a drain.
func (p *Projector) acceptTextLocked(ctx context.Context, text string) error {
	if p.settings.Mode != ModeLive {
		p.chunker.Append(text)
		return nil
	}
	p.turn.liveBuffer += text
	if p.hardBoundaryLocked() {
		return p.flushLiveLocked(ctx)
	}
	p.armIdleLocked()
	return nil
}

// hardBoundaryLocked reports whether the live buffer should flush right
// now instead of waiting for the idle timer.
func (p *Projector) hardBoundaryLocked() bool {
	buf := p.turn.liveBuffer
	n := utf8.RuneCountInString(buf)
	if n >= p.params.MaxChunkChars {
		return true
	}
	if strings.HasSuffix(buf, "\n\n") {
		return true
	}
	last, prev := lastTwoRunes(buf)
	if unicode.IsSpace(last) && isSentenceEnd(prev) {
		return true
	}
	if n >= p.params.MaxChunkChars/2 && unicode.IsSpace(last) {
		return true
	}
	return false
}

// idleReadyLocked is the idle-flush heuristic: enough text, a finished
// sentence, or any line break. Until one of these holds the idle timer
// keeps re-arming and the turn-ending forced flush is the backstop.
func (p *Projector) idleReadyLocked() bool {
	buf := p.turn.liveBuffer
	if utf8.RuneCountInString(buf) >= p.params.IdleMinChars {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(buf)
	if isSentenceEnd(last) {
		return true
	}
	return strings.Contains(buf, "\n")
}

// armIdleLocked (re)starts the idle flush timer. Arming bumps the
// generation counter, so a stale callback that already fired observes
// the mismatch and does nothing.
func (p *Projector) armIdleLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleGen++
	gen := p.idleGen
	p.idleTimer = p.clk.AfterFunc(p.params.IdleFlush, func() { p.onIdle(gen) })
}

func (p *Projector) cancelIdleLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
	p.idleGen++
}

// onIdle runs on the timer goroutine when the idle window expires.
func (p *Projector) onIdle(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.idleGen || p.turn.liveBuffer == "" {
		return
	}
	if !p.idleReadyLocked() {
		p.armIdleLocked()
		return
	}
	if err := p.flushLiveLocked(context.Background()); err != nil {
		slog.Warn("projector: idle flush failed", "err", err)
	}
}

// flushLiveLocked hands the buffered live text to the chunker and
// drains whatever is ready. The idle timer is cancelled first so it
// cannot observe the buffer mid-handoff.
func (p *Projector) flushLiveLocked(ctx context.Context) error {
	p.cancelIdleLocked()
	if p.turn.liveBuffer != "" {
		p.chunker.Append(p.turn.liveBuffer)
		p.turn.liveBuffer = ""
	}
	return p.drainChunkerLocked(ctx, false)
}

// drainChunkerLocked forwards every ready chunk into the pipeline.
func (p *Projector) drainChunkerLocked(ctx context.Context, force bool) error {
	var chunks []string
	p.chunker.Drain(force, func(chunk string) { chunks = append(chunks, chunk) })
	for _, chunk := range chunks {
		if err := p.pipeline.Enqueue(ctx, reply.Payload{Kind: reply.KindText, Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) onStatusLocked(ctx context.Context, ev agentwire.Status) error {
	if !p.settings.Visible(ev.Tag) {
		return nil
	}
	text := renderStatus(ev, p.settings.MaxStatusChars)
	if text == "" {
		return nil
	}
	if p.settings.SuppressRepeats && p.statusDuplicateLocked(ev, text) {
		return nil
	}
	return p.deliverMetaLocked(ctx, reply.Payload{
		Kind: reply.KindBlock,
		Text: text,
		Meta: reply.Meta{Tag: ev.Tag},
	}, false)
}

// statusDuplicateLocked updates the status fingerprints and reports
// whether this rendering repeats the previous one. Usage notices with
// both counters compare as a numeric tuple so a formatting change
// cannot defeat the suppression; everything else compares the trimmed
// rendered text.
func (p *Projector) statusDuplicateLocked(ev agentwire.Status, text string) bool {
	if ev.Tag == agentwire.TagUsage && ev.Used != nil && ev.Size != nil {
		key := usageKey{used: *ev.Used, size: *ev.Size}
		if p.turn.lastUsage != nil && *p.turn.lastUsage == key {
			return true
		}
		p.turn.lastUsage = &key
		return false
	}
	h := fingerprint(strings.TrimSpace(text))
	if p.turn.lastStatusHash == h {
		return true
	}
	p.turn.lastStatusHash = h
	return false
}

func (p *Projector) onToolCallLocked(ctx context.Context, ev agentwire.ToolCall) error {
	initial := ev.Tag == agentwire.TagToolCall
	if !p.settings.Visible(ev.Tag) {
		// Hidden tool activity still marks a boundary so the next
		// visible text can separate itself from whatever happened.
		if initial || agentwire.TerminalToolStatus(ev.Status) {
			p.turn.pendingHiddenBoundary = true
		}
		return nil
	}

	summary := renderToolCall(ev, p.settings.MaxToolSummaryChars)
	h := fingerprint(summary)
	meta := reply.Meta{Tag: ev.Tag, ToolCallID: ev.ToolCallID, ToolStatus: ev.Status}

	if ev.ToolCallID != "" {
		lc := p.turn.toolCalls[ev.ToolCallID]
		if lc == nil {
			lc = &toolLifecycle{}
			p.turn.toolCalls[ev.ToolCallID] = lc
		}
		// A finished call never produces another delivery, even with
		// repeat suppression off.
		if lc.terminal {
			return nil
		}
		if p.settings.SuppressRepeats {
			if initial && lc.started {
				return nil
			}
			if lc.lastHash == h {
				return nil
			}
		}
		meta.AllowEdit = !initial && lc.started
		lc.started = true
		if agentwire.TerminalToolStatus(ev.Status) {
			lc.terminal = true
		}
		lc.lastHash = h
		p.turn.lastToolHash = h
		return p.deliverMetaLocked(ctx, reply.Payload{Kind: reply.KindTool, Text: summary, Meta: meta}, false)
	}

	if p.settings.SuppressRepeats && p.turn.lastToolHash == h {
		return nil
	}
	p.turn.lastToolHash = h
	return p.deliverMetaLocked(ctx, reply.Payload{Kind: reply.KindTool, Text: summary, Meta: meta}, false)
}

// deliverMetaLocked pushes a tool or status payload, spending meta
// quota unless the delivery is forced. In final-only mode the payload
// is buffered until the next forced flush. In live mode any buffered
// live text goes out first so deliveries keep event order.
func (p *Projector) deliverMetaLocked(ctx context.Context, payload reply.Payload, force bool) error {
	if !force {
		if p.turn.emittedMetaEvents >= p.settings.MaxMetaEventsPerTurn {
			return nil
		}
		p.turn.emittedMetaEvents++
	}
	if p.settings.Mode != ModeLive {
		p.turn.pendingMeta = append(p.turn.pendingMeta, payload)
		return nil
	}
	if p.turn.liveBuffer != "" {
		if err := p.flushLiveLocked(ctx); err != nil {
			return err
		}
	}
	return p.pipeline.Enqueue(ctx, payload)
}

func (p *Projector) flushLocked(ctx context.Context, force bool) error {
	if p.settings.Mode == ModeLive {
		p.cancelIdleLocked()
		if p.turn.liveBuffer != "" {
			p.chunker.Append(p.turn.liveBuffer)
			p.turn.liveBuffer = ""
		}
	}
	if force && len(p.turn.pendingMeta) > 0 {
		// Buffered notices precede the buffered text: they happened
		// first.
		for len(p.turn.pendingMeta) > 0 {
			payload := p.turn.pendingMeta[0]
			p.turn.pendingMeta = p.turn.pendingMeta[1:]
			if err := p.pipeline.Enqueue(ctx, payload); err != nil {
				return err
			}
		}
	}
	if err := p.drainChunkerLocked(ctx, force); err != nil {
		return err
	}
	return p.pipeline.Flush(ctx, force)
}

// endTurnLocked forces a full flush and rebuilds every piece of turn
// state, leaving the projector ready for the next turn even when the
// flush failed.
func (p *Projector) endTurnLocked(ctx context.Context) error {
	err := p.flushLocked(ctx, true)
	p.cancelIdleLocked()
	p.turn = newTurnState()
	return err
}

// fingerprint is the digest used for repeat suppression.
func fingerprint(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func lastTwoRunes(s string) (last, prev rune) {
	last, size := utf8.DecodeLastRuneInString(s)
	if size == 0 {
		return 0, 0
	}
	prev, _ = utf8.DecodeLastRuneInString(s[:len(s)-size])
	return last, prev
}

// isSentenceEnd reports terminal sentence punctuation.
func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

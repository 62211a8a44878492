package reply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/relay-server/clock"
)

type delivered struct {
	kind Kind
	text string
	meta Meta
}

// recorder is a DeliverFunc that captures payloads and can be told to
// fail or reject.
type recorder struct {
	mu     sync.Mutex
	calls  []delivered
	err    error
	reject bool
}

func (r *recorder) deliver(_ context.Context, kind Kind, text string, meta Meta) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if r.reject {
		return false, nil
	}
	r.calls = append(r.calls, delivered{kind: kind, text: text, meta: meta})
	return true, nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.text
	}
	return out
}

const window = 500 * time.Millisecond

func TestPipelineMergesAdjacentText(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewFake()
	p := NewSendPipeline(100, "\n\n", window, rec.deliver, clk)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "first"}))
	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "second"}))
	assert.Empty(t, rec.texts(), "nothing should deliver before the window")

	clk.Advance(window)
	assert.Equal(t, []string{"first\n\nsecond"}, rec.texts())
	assert.Zero(t, p.Pending())
}

func TestPipelineToolPayloadsNeverMerge(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewFake()
	p := NewSendPipeline(100, " ", window, rec.deliver, clk)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "before"}))
	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindTool, Text: "✓ Read file"}))
	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "after"}))

	clk.Advance(window)
	assert.Equal(t, []string{"before", "✓ Read file", "after"}, rec.texts())
}

func TestPipelineMergeRespectsCeiling(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewFake()
	p := NewSendPipeline(10, "", window, rec.deliver, clk)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "123456"}))
	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "789012"}))

	clk.Advance(window)
	assert.Equal(t, []string{"123456", "789012"}, rec.texts())
}

func TestPipelineFullPayloadDrainsImmediately(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewFake()
	p := NewSendPipeline(5, "", window, rec.deliver, clk)

	require.NoError(t, p.Enqueue(context.Background(), Payload{Kind: KindText, Text: "12345"}))
	assert.Equal(t, []string{"12345"}, rec.texts(), "full payload should not wait for the window")
	assert.Zero(t, clk.PendingCount(), "no timer should stay armed after a synchronous drain")
}

func TestPipelineForcedFlush(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewFake()
	p := NewSendPipeline(100, "", window, rec.deliver, clk)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "pending"}))
	require.NoError(t, p.Flush(ctx, false))
	assert.Empty(t, rec.texts(), "unforced flush leaves batching to the window")

	require.NoError(t, p.Flush(ctx, true))
	assert.Equal(t, []string{"pending"}, rec.texts())

	clk.Advance(window)
	assert.Equal(t, []string{"pending"}, rec.texts(), "stale window timer must not redeliver")
}

func TestPipelineErrorStopsDrain(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{err: boom}
	clk := clock.NewFake()
	p := NewSendPipeline(100, "", window, rec.deliver, clk)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindTool, Text: "one"}))
	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindTool, Text: "two"}))
	require.ErrorIs(t, p.Flush(ctx, true), boom)

	// The failed payload is not retried; the one never attempted stays.
	assert.Equal(t, 1, p.Pending())

	rec.err = nil
	require.NoError(t, p.Flush(ctx, true))
	assert.Equal(t, []string{"two"}, rec.texts())
}

func TestPipelineRejectionPropagates(t *testing.T) {
	rec := &recorder{reject: true}
	clk := clock.NewFake()
	p := NewSendPipeline(100, "", window, rec.deliver, clk)
	ctx := context.Background()

	require.NoError(t, p.Enqueue(ctx, Payload{Kind: KindText, Text: "nope"}))
	assert.ErrorIs(t, p.Flush(ctx, true), ErrRejected)
}

func TestPipelinePreservesMeta(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewFake()
	p := NewSendPipeline(100, "", window, rec.deliver, clk)

	meta := Meta{Tag: "tool_call_update", ToolCallID: "T1", ToolStatus: "completed", AllowEdit: true}
	require.NoError(t, p.Enqueue(context.Background(), Payload{Kind: KindTool, Text: "✓ done", Meta: meta}))
	require.NoError(t, p.Flush(context.Background(), true))

	require.Len(t, rec.calls, 1)
	assert.Equal(t, meta, rec.calls[0].meta)
	assert.Equal(t, KindTool, rec.calls[0].kind)
}

package projector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveStreamParamsLive(t *testing.T) {
	p := ResolveStreamParams(ModeLive, TransportLimits{})

	assert.Equal(t, 1, p.MinChunkChars, "live drains must empty the buffer")
	assert.Equal(t, liveChunkCeiling, p.MaxChunkChars)
	assert.Equal(t, "", p.Joiner, "live joiner must preserve exact spacing")
	assert.GreaterOrEqual(t, p.IdleFlush, idleFlushFloor)
	assert.Greater(t, p.IdleMinChars, 1)
}

func TestResolveStreamParamsFinalOnly(t *testing.T) {
	p := ResolveStreamParams(ModeFinalOnly, TransportLimits{})

	assert.Equal(t, defaultMessageChars, p.MaxChunkChars)
	assert.Equal(t, defaultMessageChars/4, p.MinChunkChars, "large minimum keeps small tails buffered")
	assert.Equal(t, "\n\n", p.Joiner)
	assert.Greater(t, p.CoalesceWindow, time.Duration(0))
}

func TestResolveStreamParamsTransportCeiling(t *testing.T) {
	small := TransportLimits{MaxMessageChars: 300}

	live := ResolveStreamParams(ModeLive, small)
	assert.Equal(t, 300, live.MaxChunkChars)

	final := ResolveStreamParams(ModeFinalOnly, small)
	assert.Equal(t, 300, final.MaxChunkChars)
	assert.Equal(t, 75, final.MinChunkChars)
}

func TestResolveStreamParamsTinyTransport(t *testing.T) {
	p := ResolveStreamParams(ModeFinalOnly, TransportLimits{MaxMessageChars: 2})
	assert.Equal(t, 2, p.MaxChunkChars)
	assert.GreaterOrEqual(t, p.MinChunkChars, 1)
	assert.GreaterOrEqual(t, p.IdleMinChars, 1)
}

package projector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nicebartender/relay-server/agentwire"
)

func ptr[T any](v T) *T { return &v }

func TestResolveSettingsDefaults(t *testing.T) {
	s := ResolveSettings()

	assert.Equal(t, ModeFinalOnly, s.Mode)
	assert.Equal(t, SeparatorParagraph, s.Separator)
	assert.True(t, s.SuppressRepeats)
	assert.Equal(t, 16384, s.MaxTurnChars)
	assert.Equal(t, 200, s.MaxToolSummaryChars)
	assert.Equal(t, 200, s.MaxStatusChars)
	assert.Equal(t, 10, s.MaxMetaEventsPerTurn)
}

func TestResolveSettingsDefaultVisibility(t *testing.T) {
	s := ResolveSettings()

	assert.True(t, s.Visible(agentwire.TagMessageChunk))
	for _, tag := range []string{
		agentwire.TagThoughtChunk,
		agentwire.TagToolCall,
		agentwire.TagToolCallUpdate,
		agentwire.TagUsage,
		agentwire.TagPlanUpdate,
		agentwire.TagModeUpdate,
		agentwire.TagConfigUpdate,
		agentwire.TagSessionInfo,
		"some_future_tag",
	} {
		assert.False(t, s.Visible(tag), "tag %q should be hidden by default", tag)
	}
}

func TestResolveSettingsLayering(t *testing.T) {
	global := Overrides{
		Mode:         ptr(ModeLive),
		MaxTurnChars: ptr(1024),
		Tags:         map[string]bool{agentwire.TagToolCall: true},
	}
	room := Overrides{
		Mode: ptr(ModeFinalOnly),
		Tags: map[string]bool{
			agentwire.TagUsage:        true,
			agentwire.TagMessageChunk: false,
		},
	}
	s := ResolveSettings(global, room)

	assert.Equal(t, ModeFinalOnly, s.Mode, "later layer wins")
	assert.Equal(t, 1024, s.MaxTurnChars, "untouched field keeps earlier layer")
	assert.True(t, s.Visible(agentwire.TagToolCall), "tag maps merge across layers")
	assert.True(t, s.Visible(agentwire.TagUsage))
	assert.False(t, s.Visible(agentwire.TagMessageChunk), "explicit override can hide text chunks")
}

func TestResolveSettingsClamps(t *testing.T) {
	tests := []struct {
		name string
		in   Overrides
		want Settings
	}{
		{
			name: "below floor",
			in: Overrides{
				MaxTurnChars:         ptr(1),
				MaxToolSummaryChars:  ptr(0),
				MaxStatusChars:       ptr(-5),
				MaxMetaEventsPerTurn: ptr(0),
			},
			want: Settings{MaxTurnChars: 512, MaxToolSummaryChars: 64, MaxStatusChars: 64, MaxMetaEventsPerTurn: 1},
		},
		{
			name: "above ceiling",
			in: Overrides{
				MaxTurnChars:         ptr(1 << 20),
				MaxToolSummaryChars:  ptr(10000),
				MaxStatusChars:       ptr(10000),
				MaxMetaEventsPerTurn: ptr(1000),
			},
			want: Settings{MaxTurnChars: 131072, MaxToolSummaryChars: 2048, MaxStatusChars: 2048, MaxMetaEventsPerTurn: 64},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ResolveSettings(tt.in)
			assert.Equal(t, tt.want.MaxTurnChars, s.MaxTurnChars)
			assert.Equal(t, tt.want.MaxToolSummaryChars, s.MaxToolSummaryChars)
			assert.Equal(t, tt.want.MaxStatusChars, s.MaxStatusChars)
			assert.Equal(t, tt.want.MaxMetaEventsPerTurn, s.MaxMetaEventsPerTurn)
		})
	}
}

func TestResolveSettingsIgnoresBadEnums(t *testing.T) {
	s := ResolveSettings(Overrides{
		Mode:      ptr(Mode("turbo")),
		Separator: ptr(Separator("tab")),
	})
	assert.Equal(t, ModeFinalOnly, s.Mode)
	assert.Equal(t, SeparatorParagraph, s.Separator)
}

func TestSeparatorText(t *testing.T) {
	assert.Equal(t, "", SeparatorNone.Text())
	assert.Equal(t, " ", SeparatorSpace.Text())
	assert.Equal(t, "\n", SeparatorNewline.Text())
	assert.Equal(t, "\n\n", SeparatorParagraph.Text())
	assert.Equal(t, "", Separator("bogus").Text())
}

package projector

import (
	"github.com/nicebartender/relay-server/agentwire"
)

// Mode selects how projected output reaches the room.
type Mode string

const (
	// ModeLive streams text incrementally as it arrives.
	ModeLive Mode = "live"
	// ModeFinalOnly holds text and meta notices until the turn ends.
	ModeFinalOnly Mode = "final_only"
)

// Separator marks the transition from suppressed tool activity back to
// visible text.
type Separator string

const (
	SeparatorNone      Separator = "none"
	SeparatorSpace     Separator = "space"
	SeparatorNewline   Separator = "newline"
	SeparatorParagraph Separator = "paragraph"
)

// Text returns the characters the separator inserts.
func (s Separator) Text() string {
	switch s {
	case SeparatorSpace:
		return " "
	case SeparatorNewline:
		return "\n"
	case SeparatorParagraph:
		return "\n\n"
	default:
		return ""
	}
}

// Settings is the frozen projection policy for one conversation. Build
// one with ResolveSettings; the zero value is not usable.
type Settings struct {
	Mode            Mode
	Separator       Separator
	SuppressRepeats bool

	MaxTurnChars         int
	MaxToolSummaryChars  int
	MaxStatusChars       int
	MaxMetaEventsPerTurn int

	visible map[string]bool
}

// Visible reports whether events tagged tag reach the room. Explicit
// overrides win; without one, only model text chunks are visible and
// every other tag, known or unknown, stays hidden.
func (s Settings) Visible(tag string) bool {
	if v, ok := s.visible[tag]; ok {
		return v
	}
	return tag == agentwire.TagMessageChunk
}

// Tags returns a copy of the explicit visibility overrides.
func (s Settings) Tags() map[string]bool {
	out := make(map[string]bool, len(s.visible))
	for k, v := range s.visible {
		out[k] = v
	}
	return out
}

// Overrides is one optional layer of projection policy; nil fields
// defer to the layer below. It doubles as the JSON shape used by the
// config file and the settings RPCs.
type Overrides struct {
	Mode                 *Mode           `json:"mode,omitempty"`
	Separator            *Separator      `json:"separator,omitempty"`
	SuppressRepeats      *bool           `json:"suppressRepeats,omitempty"`
	MaxTurnChars         *int            `json:"maxTurnChars,omitempty"`
	MaxToolSummaryChars  *int            `json:"maxToolSummaryChars,omitempty"`
	MaxStatusChars       *int            `json:"maxStatusChars,omitempty"`
	MaxMetaEventsPerTurn *int            `json:"maxMetaEvents,omitempty"`
	Tags                 map[string]bool `json:"tags,omitempty"`
}

// ResolveSettings folds override layers over the defaults, later layers
// winning, then clamps every budget into its supported range.
// Unrecognized mode or separator values are ignored rather than failing
// the whole resolution, so a bad stored override cannot take a room
// offline.
func ResolveSettings(layers ...Overrides) Settings {
	s := Settings{
		Mode:                 ModeFinalOnly,
		Separator:            SeparatorParagraph,
		SuppressRepeats:      true,
		MaxTurnChars:         16384,
		MaxToolSummaryChars:  200,
		MaxStatusChars:       200,
		MaxMetaEventsPerTurn: 10,
		visible:              make(map[string]bool),
	}
	for _, o := range layers {
		if o.Mode != nil {
			switch *o.Mode {
			case ModeLive, ModeFinalOnly:
				s.Mode = *o.Mode
			}
		}
		if o.Separator != nil {
			switch *o.Separator {
			case SeparatorNone, SeparatorSpace, SeparatorNewline, SeparatorParagraph:
				s.Separator = *o.Separator
			}
		}
		if o.SuppressRepeats != nil {
			s.SuppressRepeats = *o.SuppressRepeats
		}
		if o.MaxTurnChars != nil {
			s.MaxTurnChars = *o.MaxTurnChars
		}
		if o.MaxToolSummaryChars != nil {
			s.MaxToolSummaryChars = *o.MaxToolSummaryChars
		}
		if o.MaxStatusChars != nil {
			s.MaxStatusChars = *o.MaxStatusChars
		}
		if o.MaxMetaEventsPerTurn != nil {
			s.MaxMetaEventsPerTurn = *o.MaxMetaEventsPerTurn
		}
		for tag, v := range o.Tags {
			s.visible[tag] = v
		}
	}
	s.MaxTurnChars = clamp(s.MaxTurnChars, 512, 131072)
	s.MaxToolSummaryChars = clamp(s.MaxToolSummaryChars, 64, 2048)
	s.MaxStatusChars = clamp(s.MaxStatusChars, 64, 2048)
	s.MaxMetaEventsPerTurn = clamp(s.MaxMetaEventsPerTurn, 1, 64)
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package overlay computes what the subtitle overlay shows. It has no side
// effects; the page driver applies a View to the DOM.
package overlay

import (
	"strings"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

// Size selects the overlay's font class.
type Size string

const (
	SizeSmall  Size = protocol.SizeSmall
	SizeMedium Size = protocol.SizeMedium
	SizeLarge  Size = protocol.SizeLarge
)

// ParseSize returns the size named by s, or medium for anything else.
func ParseSize(s string) Size {
	if protocol.ValidSubtitleSize(s) {
		return Size(s)
	}
	return SizeMedium
}

// Kind is what the overlay is showing.
type Kind string

const (
	KindHidden   Kind = "hidden"
	KindSubtitle Kind = "subtitle"
	KindLoading  Kind = "loading"
	KindError    Kind = "error"
)

const loadingText = "Translating subtitles..."

// View is the complete visible state of the overlay.
type View struct {
	Visible bool     `json:"visible"`
	Kind    Kind     `json:"kind"`
	Lines   []string `json:"lines"`
	Text    string   `json:"text"`
	Class   string   `json:"class"`
}

func class(kind Kind, size Size) string {
	return "cayt-overlay cayt-" + string(kind) + " cayt-size-" + string(size)
}

func view(kind Kind, size Size, lines ...string) View {
	return View{
		Visible: kind != KindHidden,
		Kind:    kind,
		Lines:   lines,
		Text:    strings.Join(lines, "\n"),
		Class:   class(kind, size),
	}
}

// Render returns the view for the active segment. A nil segment hides the
// overlay. With showOriginal the original text follows the translation as a
// second line.
func Render(seg *protocol.Segment, showOriginal bool, size Size) View {
	if seg == nil {
		return Hidden(size)
	}
	if showOriginal {
		return view(KindSubtitle, size, seg.Translated, seg.Original)
	}
	return view(KindSubtitle, size, seg.Translated)
}

// Hidden returns the empty, invisible view.
func Hidden(size Size) View {
	return view(KindHidden, size)
}

// Loading is shown while a translation is in flight.
func Loading(size Size) View {
	return view(KindLoading, size, loadingText)
}

// Error shows msg in place of subtitles.
func Error(msg string, size Size) View {
	return view(KindError, size, msg)
}

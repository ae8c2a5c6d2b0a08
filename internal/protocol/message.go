// Package protocol defines the typed messages exchanged between the
// background daemon and the page agents, and the error codes they carry.
package protocol

import "encoding/json"

// Action names one operation of the closed message set.
type Action string

const (
	ActionCheckHealth       Action = "checkHealth"
	ActionTranslate         Action = "translate"
	ActionCancelTranslation Action = "cancelTranslation"
	ActionGetState          Action = "getState"
	ActionSetState          Action = "setState"
	ActionUpdateState       Action = "updateState"
	ActionSetOption         Action = "setOption"
	// ActionToggleSubtitles is sent to a page agent to emulate the user
	// pressing the in-player toggle button.
	ActionToggleSubtitles Action = "toggleSubtitles"
)

// Actions lists every action either context understands.
var Actions = []Action{
	ActionCheckHealth,
	ActionTranslate,
	ActionCancelTranslation,
	ActionGetState,
	ActionSetState,
	ActionUpdateState,
	ActionSetOption,
	ActionToggleSubtitles,
}

// Message is a request from one context to the other. TabID is optional:
// when empty, the receiver uses the tab implied by the connection.
type Message struct {
	Action       Action      `json:"action"`
	TabID        string      `json:"tabId,omitempty"`
	VideoURL     string      `json:"videoUrl,omitempty"`
	SourceLang   string      `json:"sourceLang,omitempty"`
	VideoID      string      `json:"videoId,omitempty"`
	State        *StatePatch `json:"state,omitempty"`
	ShowOriginal *bool       `json:"showOriginal,omitempty"`
	SubtitleSize string      `json:"subtitleSize,omitempty"`
}

// StatePatch is a partial update of a tab session. Reset is applied first,
// then IsLoading, IsActive and Error.
type StatePatch struct {
	Reset     bool    `json:"reset,omitempty"`
	IsActive  *bool   `json:"isActive,omitempty"`
	IsLoading *bool   `json:"isLoading,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// TabState is the wire form of a tab session.
type TabState struct {
	TabID         string    `json:"tabId"`
	IsActive      bool      `json:"isActive"`
	IsLoading     bool      `json:"isLoading"`
	VideoID       *string   `json:"videoId"`
	TaskID        *string   `json:"taskId"`
	SourceType    string    `json:"sourceType,omitempty"`
	Error         *string   `json:"error"`
	Subtitles     []Segment `json:"subtitles"`
	TotalSegments int       `json:"totalSegments"`
}

// TranslationData is the success payload of a translate request.
type TranslationData struct {
	TaskID        string          `json:"taskId"`
	VideoID       string          `json:"videoId"`
	Title         string          `json:"title,omitempty"`
	Segments      []Segment       `json:"segments"`
	Context       json.RawMessage `json:"context,omitempty"`
	TotalSegments int             `json:"totalSegments"`
	SourceType    string          `json:"sourceType,omitempty"`
	Cached        bool            `json:"cached"`
}

// Options are the persisted user display settings.
type Options struct {
	ShowOriginal bool   `json:"showOriginal"`
	SubtitleSize string `json:"subtitleSize"`
}

// Subtitle sizes accepted by setOption.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// ValidSubtitleSize reports whether size is one of the accepted sizes.
func ValidSubtitleSize(size string) bool {
	switch size {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// Merge applies the option fields carried by msg. It reports a VALIDATION
// error for an unknown subtitle size.
func (o Options) Merge(msg Message) (Options, error) {
	if msg.ShowOriginal != nil {
		o.ShowOriginal = *msg.ShowOriginal
	}
	if msg.SubtitleSize != "" {
		if !ValidSubtitleSize(msg.SubtitleSize) {
			return o, NewError(CodeValidation, "subtitleSize must be small, medium or large", nil)
		}
		o.SubtitleSize = msg.SubtitleSize
	}
	return o, nil
}

// DefaultOptions returns the settings used before the user changes anything.
func DefaultOptions() Options {
	return Options{ShowOriginal: false, SubtitleSize: SizeMedium}
}

// Response answers exactly one Message.
type Response struct {
	Success   bool             `json:"success"`
	Cancelled bool             `json:"cancelled,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      string           `json:"code,omitempty"`
	Message   string           `json:"message,omitempty"`
	Data      *TranslationData `json:"data,omitempty"`
	Ollama    string           `json:"ollama,omitempty"`
	Model     string           `json:"model,omitempty"`
	STT       string           `json:"stt,omitempty"`
	State     *TabState        `json:"state,omitempty"`
	Options   *Options         `json:"options,omitempty"`
}

// OK returns a bare success response.
func OK() Response {
	return Response{Success: true}
}

// ErrorResponse converts err into a failed response carrying its code.
func ErrorResponse(err error) Response {
	return Response{
		Success: false,
		Code:    CodeOf(err),
		Error:   UserMessage(err),
	}
}

// FrameKind distinguishes requests from responses on a bridge connection.
type FrameKind string

const (
	FrameRequest  FrameKind = "request"
	FrameResponse FrameKind = "response"
)

// Frame is the unit written to a bridge connection. Response frames reuse
// the ID of the request they answer.
type Frame struct {
	ID       string    `json:"id"`
	Kind     FrameKind `json:"kind"`
	Message  *Message  `json:"message,omitempty"`
	Response *Response `json:"response,omitempty"`
}

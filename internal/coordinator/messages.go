package coordinator

import (
	"encoding/json"

	"github.com/tidwall/sjson"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/capability"
)

// Request message types.
const (
	TypeBootstrap       = "scribbly:bootstrap"
	TypeGetAvailability = "scribbly:get-availability"
	TypeUpdateSettings  = "scribbly:update-settings"
	TypeRequestSummary  = "scribbly:request-summary"
	TypeSaveDrawing     = "scribbly:save-drawing"
	TypeFetchDrawings   = "scribbly:fetch-drawings"
	TypeToggleOverlay   = "scribbly:toggle-overlay"
	TypeSetTool         = "scribbly:set-tool"
	TypeOverlayCommand  = "scribbly:overlay-command"
)

// Response and broadcast message types. set-tool and overlay-command are
// relayed to the target tab under their request type.
const (
	TypeBootstrapResponse = "scribbly:bootstrap:response"
	TypeAvailability      = "scribbly:availability"
	TypeSettings          = "scribbly:settings"
	TypeSummaryProgress   = "scribbly:summary-progress"
	TypeSummaryReady      = "scribbly:summary-ready"
	TypeDrawingSaved      = "scribbly:drawing-saved"
	TypeDrawings          = "scribbly:drawings"
	TypeOverlayToggle     = "scribbly:overlay-toggle"
)

// Command is an overlay command relayed from a toolbar or popup.
type Command string

const (
	CommandUndo               Command = "undo"
	CommandRedo               Command = "redo"
	CommandClear              Command = "clear"
	CommandSummarizeSelection Command = "summarize-selection"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CommandUndo, CommandRedo, CommandClear, CommandSummarizeSelection:
		return true
	}
	return false
}

// Request is a message sent to the coordinator. Only the fields relevant to
// Type are read.
type Request struct {
	Type     string                            `json:"type"`
	Settings *annotation.SettingsPatch         `json:"settings,omitempty"`
	Payload  *annotation.SummaryRequestPayload `json:"payload,omitempty"`
	Drawing  *annotation.DrawingRecord         `json:"drawing,omitempty"`
	URL      string                            `json:"url,omitempty"`
	Visible  *bool                             `json:"visible,omitempty"`
	TabID    int                               `json:"tabId,omitempty"`
	Tool     annotation.Tool                   `json:"tool,omitempty"`
	Command  Command                           `json:"command,omitempty"`
}

// BootstrapPayload is the body of a bootstrap response.
type BootstrapPayload struct {
	Settings     annotation.Settings        `json:"settings"`
	Summaries    []annotation.SummaryRecord `json:"summaries"`
	Capabilities capability.Snapshot        `json:"capabilities"`
}

// Event is a response or broadcast message emitted by the coordinator.
type Event struct {
	Type         string                     `json:"type"`
	Payload      *BootstrapPayload          `json:"payload,omitempty"`
	Capabilities *capability.Snapshot       `json:"capabilities,omitempty"`
	Settings     *annotation.Settings       `json:"settings,omitempty"`
	RequestID    string                     `json:"requestId,omitempty"`
	Status       annotation.Status          `json:"status,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Summary      *annotation.SummaryRecord  `json:"summary,omitempty"`
	Drawing      *annotation.DrawingRecord  `json:"drawing,omitempty"`
	URL          string                     `json:"url,omitempty"`
	Drawings     []annotation.DrawingRecord `json:"drawings,omitempty"`
	Visible      *bool                      `json:"visible,omitempty"`
	Tool         annotation.Tool            `json:"tool,omitempty"`
	Command      Command                    `json:"command,omitempty"`
}

type eventAlias Event

// MarshalJSON keeps the drawings list present, even when empty, on drawings
// messages.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(eventAlias(e))
	if err != nil {
		return nil, err
	}
	if e.Type == TypeDrawings && len(e.Drawings) == 0 {
		return sjson.SetRawBytes(data, "drawings", []byte("[]"))
	}
	return data, nil
}

// Redacted returns a copy of e safe to send to untrusted observers: the
// cloud API key is removed from settings.
func (e Event) Redacted() Event {
	if e.Settings != nil && e.Settings.CloudAPIKey != "" {
		s := *e.Settings
		s.CloudAPIKey = ""
		e.Settings = &s
	}
	if e.Payload != nil && e.Payload.Settings.CloudAPIKey != "" {
		p := *e.Payload
		p.Settings.CloudAPIKey = ""
		e.Payload = &p
	}
	return e
}

func progressEvent(requestID string, status annotation.Status, errMsg string) Event {
	return Event{Type: TypeSummaryProgress, RequestID: requestID, Status: status, Error: errMsg}
}

func availabilityEvent(s capability.Snapshot) Event {
	return Event{Type: TypeAvailability, Capabilities: &s}
}

func settingsEvent(s annotation.Settings) Event {
	return Event{Type: TypeSettings, Settings: &s}
}

func toggleEvent(visible bool) Event {
	return Event{Type: TypeOverlayToggle, Visible: &visible}
}

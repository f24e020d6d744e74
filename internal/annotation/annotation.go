// Package annotation holds the records shared by the overlay, the coordinator
// and persistence: strokes, drawings, summary requests and summary records.
package annotation

// Tool identifies the drawing tool that produced a stroke.
type Tool string

const (
	ToolHighlighter Tool = "highlighter"
	ToolEraser      Tool = "eraser"
	ToolRectangle   Tool = "rectangle"
	ToolPen         Tool = "pen"
)

// Valid reports whether t is a known tool.
func (t Tool) Valid() bool {
	switch t {
	case ToolHighlighter, ToolEraser, ToolRectangle, ToolPen:
		return true
	}
	return false
}

// Point is a position in page (document) coordinates unless stated otherwise.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one continuous pointer gesture plus its rendering attributes.
type Stroke struct {
	ID      string  `json:"id"`
	Color   string  `json:"color"`
	Width   float64 `json:"width"`
	Opacity float64 `json:"opacity"`
	Points  []Point `json:"points"`
	Tool    Tool    `json:"tool"`
}

// DrawingRecord is the persisted set of strokes for one page URL.
type DrawingRecord struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	CreatedAt    int64    `json:"createdAt"` // Unix milliseconds
	UpdatedAt    int64    `json:"updatedAt"` // Unix milliseconds
	Strokes      []Stroke `json:"strokes"`
	ImageDataURL string   `json:"imageDataUrl,omitempty"`
}

// Source tells where the summarized text came from.
type Source string

const (
	SourceSelection Source = "selection"
	SourceRectangle Source = "rectangle"
	SourcePage      Source = "page"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceSelection || s == SourceRectangle || s == SourcePage
}

// SummaryRequestPayload is sent by the overlay to request a summary.
// It is immutable once sent.
type SummaryRequestPayload struct {
	RequestID   string       `json:"requestId"`
	Text        string       `json:"text"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Source      Source       `json:"source"`
	Rect        *RectPayload `json:"rect,omitempty"`
	TriggeredAt int64        `json:"triggeredAt"` // Unix milliseconds
}

// Status is the lifecycle state of a summary record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends the record lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Mode selects the summarization backend.
type Mode string

const (
	ModeOnDevice Mode = "on-device"
	ModeCloud    Mode = "cloud"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOnDevice || m == ModeCloud
}

// SummaryRecord is the persisted outcome (or in-flight placeholder) of one
// summarization request. RequestID correlates request and response; ID is the
// persistence identity.
type SummaryRecord struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
	Source    Source `json:"source"`
	Text      string `json:"text"`
	Summary   string `json:"summary"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
	URL       string `json:"url"`
	Title     string `json:"title"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Mode      Mode   `json:"mode"`
}

// Settings are the user preferences consumed by the coordinator.
type Settings struct {
	Mode              Mode   `json:"mode"`
	AutoOpenSidePanel bool   `json:"autoOpenSidePanel"`
	EnableWriter      bool   `json:"enableWriter"`
	CloudAPIKey       string `json:"cloudApiKey,omitempty"`
}

// DefaultSettings returns the settings used when nothing is stored.
func DefaultSettings() Settings {
	return Settings{
		Mode:              ModeOnDevice,
		AutoOpenSidePanel: true,
		EnableWriter:      false,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left untouched;
// an empty CloudAPIKey removes the stored key.
type SettingsPatch struct {
	Mode              *Mode   `json:"mode,omitempty"`
	AutoOpenSidePanel *bool   `json:"autoOpenSidePanel,omitempty"`
	EnableWriter      *bool   `json:"enableWriter,omitempty"`
	CloudAPIKey       *string `json:"cloudApiKey,omitempty"`
}

// AffectsCapabilities reports whether applying p requires resetting model
// sessions and re-probing capabilities.
func (p SettingsPatch) AffectsCapabilities() bool {
	return p.Mode != nil || p.EnableWriter != nil
}

package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/config"
	"github.com/hpungsan/scribbly/internal/coordinator"
	"github.com/hpungsan/scribbly/internal/errors"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	coord *coordinator.Coordinator
	cfg   *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(coord *coordinator.Coordinator, cfg *config.Config) *Handlers {
	return &Handlers{coord: coord, cfg: cfg}
}

// Request types for each tool

// SummaryRequest represents the arguments for summary_request.
type SummaryRequest struct {
	Text      string `json:"text"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	Source    string `json:"source,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SummaryListRequest represents the arguments for summary_list.
type SummaryListRequest struct {
	URL   string `json:"url,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// SummaryGetRequest represents the arguments for summary_get.
type SummaryGetRequest struct {
	ID string `json:"id"`
}

// DrawingSaveRequest represents the arguments for drawing_save.
type DrawingSaveRequest struct {
	ID      string              `json:"id,omitempty"`
	URL     string              `json:"url"`
	Strokes []annotation.Stroke `json:"strokes"`
}

// DrawingFetchRequest represents the arguments for drawing_fetch.
type DrawingFetchRequest struct {
	URL string `json:"url"`
}

// AvailabilityRequest represents the arguments for capability_availability.
type AvailabilityRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

// SettingsUpdateRequest represents the arguments for settings_update.
type SettingsUpdateRequest struct {
	Mode              *string `json:"mode,omitempty"`
	AutoOpenSidePanel *bool   `json:"auto_open_side_panel,omitempty"`
	EnableWriter      *bool   `json:"enable_writer,omitempty"`
	CloudAPIKey       *string `json:"cloud_api_key,omitempty"`
}

// Output types

// SummaryListOutput is returned by summary_list.
type SummaryListOutput struct {
	Summaries []annotation.SummaryRecord `json:"summaries"`
	Count     int                        `json:"count"`
}

// DrawingsOutput is returned by drawing_fetch.
type DrawingsOutput struct {
	URL      string                     `json:"url"`
	Drawings []annotation.DrawingRecord `json:"drawings"`
}

// SettingsOutput is the redacted settings view returned by the settings tools.
type SettingsOutput struct {
	Mode              annotation.Mode `json:"mode"`
	AutoOpenSidePanel bool            `json:"auto_open_side_panel"`
	EnableWriter      bool            `json:"enable_writer"`
	HasCloudAPIKey    bool            `json:"has_cloud_api_key"`
}

// AvailabilityOutput is returned by capability_availability.
type AvailabilityOutput struct {
	Capabilities map[string]capability.DownloadState `json:"capabilities"`
}

// Handler implementations

// HandleSummaryRequest handles the summary_request tool call.
func (h *Handlers) HandleSummaryRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SummaryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	requestID := input.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	rec, err := h.coord.RequestSummary(ctx, annotation.SummaryRequestPayload{
		RequestID: requestID,
		Text:      input.Text,
		URL:       input.URL,
		Title:     input.Title,
		Source:    annotation.Source(input.Source),
	})
	if err != nil {
		return errorResult(err), nil
	}
	// The record is persisted either way; a failed run still reports an error.
	if rec.Status != annotation.StatusCompleted {
		return errorResult(errors.NewSummaryFailed(rec.ID, string(rec.Status), rec.Error)), nil
	}

	return successResult(rec)
}

// HandleSummaryList handles the summary_list tool call.
func (h *Handlers) HandleSummaryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SummaryListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = h.cfg.SummaryListLimit
	}

	var summaries []annotation.SummaryRecord
	if input.URL != "" {
		summaries, err = h.coord.SummariesForURL(ctx, input.URL, limit)
	} else {
		summaries, err = h.coord.ListSummaries(ctx, limit)
	}
	if err != nil {
		return errorResult(err), nil
	}
	if summaries == nil {
		summaries = []annotation.SummaryRecord{}
	}

	return successResult(SummaryListOutput{Summaries: summaries, Count: len(summaries)})
}

// HandleSummaryExport handles the summary_export tool call.
func (h *Handlers) HandleSummaryExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SummaryListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	combined, err := h.coord.CombinedSummary(ctx, input.URL, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(combined)
}

// HandleSummaryGet handles the summary_get tool call.
func (h *Handlers) HandleSummaryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SummaryGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	rec, err := h.coord.Summary(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(rec)
}

// HandleDrawingSave handles the drawing_save tool call.
func (h *Handlers) HandleDrawingSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DrawingSaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	d := annotation.DrawingRecord{
		ID:      input.ID,
		URL:     input.URL,
		Strokes: input.Strokes,
	}
	if err := h.coord.SaveDrawing(ctx, &d); err != nil {
		return errorResult(err), nil
	}

	return successResult(d)
}

// HandleDrawingFetch handles the drawing_fetch tool call.
func (h *Handlers) HandleDrawingFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DrawingFetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	drawings, err := h.coord.Drawings(ctx, input.URL)
	if err != nil {
		return errorResult(err), nil
	}
	if drawings == nil {
		drawings = []annotation.DrawingRecord{}
	}

	return successResult(DrawingsOutput{URL: input.URL, Drawings: drawings})
}

// HandleAvailability handles the capability_availability tool call.
func (h *Handlers) HandleAvailability(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AvailabilityRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	snap := h.coord.Cache().Snapshot()
	if input.Refresh {
		if snap, err = h.coord.Cache().Refresh(ctx); err != nil {
			return errorResult(err), nil
		}
	}

	out := AvailabilityOutput{Capabilities: make(map[string]capability.DownloadState, len(capability.Names))}
	for _, name := range capability.Names {
		out.Capabilities[name], _ = snap.Get(name)
	}

	return successResult(out)
}

// HandleSettingsGet handles the settings_get tool call.
func (h *Handlers) HandleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(settingsOutput(h.coord.Cache().Settings()))
}

// HandleSettingsUpdate handles the settings_update tool call.
func (h *Handlers) HandleSettingsUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	patch := annotation.SettingsPatch{
		AutoOpenSidePanel: input.AutoOpenSidePanel,
		EnableWriter:      input.EnableWriter,
		CloudAPIKey:       input.CloudAPIKey,
	}
	if input.Mode != nil {
		mode := annotation.Mode(*input.Mode)
		patch.Mode = &mode
	}

	settings, err := h.coord.UpdateSettings(ctx, patch)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(settingsOutput(settings))
}

func settingsOutput(s annotation.Settings) SettingsOutput {
	return SettingsOutput{
		Mode:              s.Mode,
		AutoOpenSidePanel: s.AutoOpenSidePanel,
		EnableWriter:      s.EnableWriter,
		HasCloudAPIKey:    s.CloudAPIKey != "",
	}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.ScribblyError
	if stderrors.As(err, &sErr) {
		message := sErr.Message
		// Keep wrapper context such as "strokes[2]: ..." when the error was wrapped.
		if wrapped := err.Error(); wrapped != sErr.Error() {
			message = wrapped
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": message,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		if sErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/config"
	"github.com/hpungsan/scribbly/internal/coordinator"
	"github.com/hpungsan/scribbly/internal/db"
	"github.com/hpungsan/scribbly/internal/errors"
)

type fakeSession struct{ err error }

func (s fakeSession) Invoke(_ context.Context, req []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(req, &in)
	return json.Marshal(map[string]string{"summary": "about " + in.Text})
}

func (fakeSession) Dispose() error { return nil }

type fakeBackend struct {
	availability string
	err          error
}

func (b fakeBackend) Availability(context.Context) (*capability.AvailabilityResult, error) {
	return &capability.AvailabilityResult{Availability: b.availability}, nil
}

func (b fakeBackend) Create(context.Context, capability.Monitor) (capability.Session, error) {
	return fakeSession{err: b.err}, nil
}

type fakeProvider struct{ backend fakeBackend }

func (p fakeProvider) Backend(capability.Descriptor) capability.Backend { return p.backend }

// testSetup creates a coordinator over a temporary database.
func testSetup(t *testing.T, backend fakeBackend) (*coordinator.Coordinator, *config.Config) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	coord := coordinator.New(coordinator.Options{
		Store:        db.NewStore(database),
		Capabilities: capability.NewSet(fakeProvider{backend: backend}, nil),
	})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("failed to start coordinator: %v", err)
	}
	t.Cleanup(func() { _ = coord.Close(context.Background()) })

	return coord, config.DefaultConfig()
}

func readySetup(t *testing.T) *Handlers {
	t.Helper()
	coord, cfg := testSetup(t, fakeBackend{availability: capability.Readily})
	return NewHandlers(coord, cfg)
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleSummaryRequest(t *testing.T) {
	h := readySetup(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "summarize text",
			args: map[string]any{
				"text":  "the quick brown fox",
				"url":   "https://example.com",
				"title": "Example",
			},
		},
		{
			name: "explicit source and request id",
			args: map[string]any{
				"text":       "boxed words",
				"source":     "rectangle",
				"request_id": "req-42",
			},
		},
		{
			name:      "missing text",
			args:      map[string]any{"url": "https://example.com"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "blank text",
			args:      map[string]any{"text": "  \n "},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown source",
			args:      map[string]any{"text": "x", "source": "clipboard"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "wrong argument type",
			args:      map[string]any{"text": 12},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleSummaryRequest(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
				return
			}
			if result.IsError {
				t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
			}
			out := parseOutput(t, result)
			if out["status"] != "completed" {
				t.Errorf("status = %v, want completed", out["status"])
			}
			if !strings.HasPrefix(out["summary"].(string), "- about ") {
				t.Errorf("summary = %v, want bullet", out["summary"])
			}
			if out["requestId"] == "" {
				t.Error("expected a request id")
			}
		})
	}
}

func TestHandleSummaryRequest_BackendFailure(t *testing.T) {
	coord, cfg := testSetup(t, fakeBackend{availability: capability.Readily, err: fmt.Errorf("model crashed")})
	h := NewHandlers(coord, cfg)

	result, err := h.HandleSummaryRequest(context.Background(), makeRequest(map[string]any{"text": "words"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	assertErrorCode(t, result, "SUMMARY_FAILED")

	// The failed record is still listed.
	list, _ := h.HandleSummaryList(context.Background(), makeRequest(nil))
	out := parseOutput(t, list)
	if out["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", out["count"])
	}
	rec := out["summaries"].([]any)[0].(map[string]any)
	if rec["status"] != "error" {
		t.Errorf("status = %v, want error", rec["status"])
	}
}

func TestHandleSummaryRequest_CloudWithoutKey(t *testing.T) {
	h := readySetup(t)
	ctx := context.Background()

	res, _ := h.HandleSettingsUpdate(ctx, makeRequest(map[string]any{"mode": "cloud"}))
	if res.IsError {
		t.Fatalf("settings_update: %s", extractErrorMessage(res))
	}

	result, err := h.HandleSummaryRequest(ctx, makeRequest(map[string]any{"text": "words"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "SUMMARY_FAILED")
	if !strings.Contains(extractErrorMessage(result), "API key") {
		t.Errorf("message should mention the API key: %s", extractErrorMessage(result))
	}
}

func TestHandleSummaryListAndGet(t *testing.T) {
	h := readySetup(t)
	ctx := context.Background()

	var ids []string
	for i, url := range []string{"https://a.test", "https://b.test", "https://a.test"} {
		res, _ := h.HandleSummaryRequest(ctx, makeRequest(map[string]any{
			"text": fmt.Sprintf("text %d", i),
			"url":  url,
		}))
		ids = append(ids, parseOutput(t, res)["id"].(string))
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantCount int
	}{
		{"all", map[string]any{}, 3},
		{"limit", map[string]any{"limit": 2}, 2},
		{"by url", map[string]any{"url": "https://a.test"}, 2},
		{"unknown url", map[string]any{"url": "https://none.test"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleSummaryList(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			out := parseOutput(t, result)
			if int(out["count"].(float64)) != tt.wantCount {
				t.Errorf("count = %v, want %d", out["count"], tt.wantCount)
			}
			if _, ok := out["summaries"].([]any); !ok {
				t.Errorf("summaries should be an array, got %T", out["summaries"])
			}
		})
	}

	got, _ := h.HandleSummaryGet(ctx, makeRequest(map[string]any{"id": ids[1]}))
	if out := parseOutput(t, got); out["url"] != "https://b.test" {
		t.Errorf("url = %v, want https://b.test", out["url"])
	}

	missing, _ := h.HandleSummaryGet(ctx, makeRequest(map[string]any{"id": "nope"}))
	assertErrorCode(t, missing, "NOT_FOUND")

	empty, _ := h.HandleSummaryGet(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, empty, "INVALID_REQUEST")
}

func TestHandleDrawingSaveFetch(t *testing.T) {
	h := readySetup(t)
	ctx := context.Background()

	rect := []any{
		map[string]any{"x": 10, "y": 10},
		map[string]any{"x": 60, "y": 10},
		map[string]any{"x": 60, "y": 40},
		map[string]any{"x": 10, "y": 40},
		map[string]any{"x": 10, "y": 10},
	}
	saved, err := h.HandleDrawingSave(ctx, makeRequest(map[string]any{
		"url": "https://a.test",
		"strokes": []any{map[string]any{
			"id": "s1", "tool": "rectangle", "color": "#0ea5e9", "width": 3, "opacity": 1, "points": rect,
		}},
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, saved)
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatal("expected assigned drawing id")
	}

	fetched, _ := h.HandleDrawingFetch(ctx, makeRequest(map[string]any{"url": "https://a.test"}))
	fo := parseOutput(t, fetched)
	drawings := fo["drawings"].([]any)
	if len(drawings) != 1 || drawings[0].(map[string]any)["id"] != id {
		t.Fatalf("drawings = %v", drawings)
	}

	none, _ := h.HandleDrawingFetch(ctx, makeRequest(map[string]any{"url": "https://b.test"}))
	if d, ok := parseOutput(t, none)["drawings"].([]any); !ok || len(d) != 0 {
		t.Errorf("expected empty drawings array, got %v", d)
	}

	bad, _ := h.HandleDrawingSave(ctx, makeRequest(map[string]any{
		"url": "https://a.test",
		"strokes": []any{map[string]any{
			"id": "s2", "tool": "rectangle", "points": rect[:3],
		}},
	}))
	assertErrorCode(t, bad, "INVALID_REQUEST")

	noURL, _ := h.HandleDrawingFetch(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, noURL, "INVALID_REQUEST")
}

func TestHandleAvailability(t *testing.T) {
	coord, cfg := testSetup(t, fakeBackend{availability: capability.AfterDownload})
	h := NewHandlers(coord, cfg)

	result, err := h.HandleAvailability(context.Background(), makeRequest(map[string]any{"refresh": true}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	caps := parseOutput(t, result)["capabilities"].(map[string]any)
	for _, name := range capability.Names {
		if _, ok := caps[name]; !ok {
			t.Errorf("missing capability %q", name)
		}
	}
	summarizer := caps[capability.NameSummarizer].(map[string]any)
	if summarizer["status"] != string(capability.StatusDownloadable) {
		t.Errorf("summarizer status = %v, want downloadable", summarizer["status"])
	}
}

func TestHandleSettings(t *testing.T) {
	h := readySetup(t)
	ctx := context.Background()

	got, _ := h.HandleSettingsGet(ctx, makeRequest(nil))
	out := parseOutput(t, got)
	if out["mode"] != "on-device" || out["has_cloud_api_key"] != false {
		t.Fatalf("defaults = %v", out)
	}

	updated, _ := h.HandleSettingsUpdate(ctx, makeRequest(map[string]any{
		"cloud_api_key":        "secret",
		"auto_open_side_panel": false,
	}))
	out = parseOutput(t, updated)
	if out["has_cloud_api_key"] != true {
		t.Error("expected has_cloud_api_key after update")
	}
	if out["auto_open_side_panel"] != false {
		t.Error("expected auto_open_side_panel false")
	}
	raw := updated.Content[0].(mcp.TextContent).Text
	if strings.Contains(raw, "secret") {
		t.Fatal("settings output leaked the API key")
	}

	bad, _ := h.HandleSettingsUpdate(ctx, makeRequest(map[string]any{"mode": "telepathy"}))
	assertErrorCode(t, bad, "INVALID_REQUEST")
}

func TestHandleSummaryExport(t *testing.T) {
	h := readySetup(t)
	ctx := context.Background()

	for i, url := range []string{"https://a.test", "https://b.test"} {
		res, _ := h.HandleSummaryRequest(ctx, makeRequest(map[string]any{"text": fmt.Sprintf("text %d", i), "url": url}))
		parseOutput(t, res)
	}

	all := parseOutput(t, mustCall(t, h.HandleSummaryExport, map[string]any{}))
	if all["count"] != float64(2) {
		t.Errorf("count = %v, want 2", all["count"])
	}
	text, _ := all["text"].(string)
	if !strings.Contains(text, "• - about text 0") || !strings.Contains(text, "• - about text 1") {
		t.Errorf("text = %q", text)
	}

	one := parseOutput(t, mustCall(t, h.HandleSummaryExport, map[string]any{"url": "https://b.test"}))
	if one["count"] != float64(1) || one["text"] != "• - about text 1" {
		t.Errorf("filtered export = %v", one)
	}

	empty := parseOutput(t, mustCall(t, h.HandleSummaryExport, map[string]any{"url": "https://none.test"}))
	if empty["count"] != float64(0) || empty["text"] != "" {
		t.Errorf("empty export = %v", empty)
	}
}

func TestHandleSummaryExport_SkipsFailed(t *testing.T) {
	coord, cfg := testSetup(t, fakeBackend{availability: capability.Readily, err: stderrors.New("model crashed")})
	h := NewHandlers(coord, cfg)
	ctx := context.Background()

	res, _ := h.HandleSummaryRequest(ctx, makeRequest(map[string]any{"text": "doomed"}))
	assertErrorCode(t, res, "SUMMARY_FAILED")

	out := parseOutput(t, mustCall(t, h.HandleSummaryExport, map[string]any{}))
	if out["count"] != float64(0) {
		t.Errorf("count = %v, want 0", out["count"])
	}
}

func mustCall(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := fn(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("tool call failed: %v", err)
	}
	return res
}

func TestServerRegistration(t *testing.T) {
	coord, cfg := testSetup(t, fakeBackend{availability: capability.Readily})

	s := NewServer(coord, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"summary_request",
		"summary_list",
		"summary_get",
		"summary_export",
		"drawing_save",
		"drawing_fetch",
		"capability_availability",
		"settings_get",
		"settings_update",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	coord, cfg := testSetup(t, fakeBackend{availability: capability.Readily})

	cfg.DisabledTools = []string{"settings_update", "drawing_save", "drawing_save"}
	tools := NewServer(coord, cfg, "test").ListTools()

	if len(tools) != 7 {
		t.Errorf("registered tool count = %d, want 7", len(tools))
	}
	for _, name := range []string{"settings_update", "drawing_save"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	coord, cfg := testSetup(t, fakeBackend{availability: capability.Readily})

	cfg.DisabledTools = AllToolNames()
	tools := NewServer(coord, cfg, "test").ListTools()

	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"settings_update", "drawing_save"}, 0},
		{"one unknown", []string{"summary_list", "page_export"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 9 {
		t.Errorf("AllToolNames() returned %d names, want 9", len(names))
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
	if strings.Contains(errObj["message"].(string), "secret.db") {
		t.Fatal("expected INTERNAL message to be generic")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrapped := fmt.Errorf("strokes[2]: %w", errors.NewInvalidRequest("rectangle strokes need 5 points"))

	errObj := errorObject(t, errorResult(wrapped))
	if errObj["code"] != string(errors.ErrInvalidRequest) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrInvalidRequest)
	}
	if msg := errObj["message"].(string); !strings.Contains(msg, "strokes[2]") {
		t.Errorf("message should contain wrapper context, got: %s", msg)
	}
}

func TestErrorResult_NonScribblyError(t *testing.T) {
	errObj := errorObject(t, errorResult(stderrors.New("boom")))
	if errObj["code"] != "INTERNAL" {
		t.Errorf("code=%v, want INTERNAL", errObj["code"])
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("summary", "abc")))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

func errorObject(t *testing.T, r *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}

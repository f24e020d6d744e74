package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/config"
	"github.com/hpungsan/scribbly/internal/coordinator"
	"github.com/hpungsan/scribbly/internal/db"
)

type echoSession struct{}

func (echoSession) Invoke(_ context.Context, req []byte) ([]byte, error) {
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(req, &in)
	return json.Marshal(map[string]string{"summary": "gist of " + in.Text})
}

func (echoSession) Dispose() error { return nil }

type readyBackend struct{}

func (readyBackend) Availability(context.Context) (*capability.AvailabilityResult, error) {
	return &capability.AvailabilityResult{Availability: capability.Readily}, nil
}

func (readyBackend) Create(context.Context, capability.Monitor) (capability.Session, error) {
	return echoSession{}, nil
}

type readyProvider struct{}

func (readyProvider) Backend(capability.Descriptor) capability.Backend { return readyBackend{} }

func setupTest(t *testing.T) (*Handlers, *coordinator.Coordinator) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	coord := coordinator.New(coordinator.Options{
		Store:        db.NewStore(database),
		Capabilities: capability.NewSet(readyProvider{}, nil),
	})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("coordinator start: %v", err)
	}
	t.Cleanup(func() { _ = coord.Close(context.Background()) })

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}
	cfg := config.DefaultConfig()
	return NewHandlers(coord, cfg, NewRenderer(templateSub, "test", nil), nil), coord
}

func newRouter(t *testing.T, h *Handlers) http.Handler {
	t.Helper()
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		t.Fatalf("static sub-FS: %v", err)
	}
	return NewRouter(h, staticSub, nil)
}

func seedSummary(t *testing.T, coord *coordinator.Coordinator, requestID, url, text string) *annotation.SummaryRecord {
	t.Helper()
	rec, err := coord.RequestSummary(context.Background(), annotation.SummaryRequestPayload{
		RequestID: requestID,
		Text:      text,
		URL:       url,
		Title:     "Page " + requestID,
	})
	if err != nil {
		t.Fatalf("seed summary %q: %v", requestID, err)
	}
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// --- HandleHealth ---

func TestHandleHealth(t *testing.T) {
	h, _ := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// --- HandleMessage ---

func TestHandleMessage_Bootstrap(t *testing.T) {
	h, coord := setupTest(t)
	seedSummary(t, coord, "r1", "https://example.com", "alpha text")

	body := strings.NewReader(`{"type":"scribbly:bootstrap"}`)
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, httptest.NewRequest("POST", "/api/messages", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp coordinator.Event
	decodeJSON(t, rec, &resp)
	if resp.Type != coordinator.TypeBootstrapResponse {
		t.Fatalf("type = %q", resp.Type)
	}
	if resp.Payload == nil || len(resp.Payload.Summaries) != 1 {
		t.Fatalf("payload = %+v, want one summary", resp.Payload)
	}
	if resp.Payload.Capabilities.Summarizer.Status != capability.StatusAvailable {
		t.Errorf("summarizer = %v, want available", resp.Payload.Capabilities.Summarizer)
	}
}

func TestHandleMessage_RequestSummaryAccepted(t *testing.T) {
	h, coord := setupTest(t)
	sub := coord.Hub().Subscribe(0, 16)
	defer sub.Close()

	body := strings.NewReader(`{"type":"scribbly:request-summary","payload":{"requestId":"r9","text":"some words","url":"https://example.com"}}`)
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, httptest.NewRequest("POST", "/api/messages", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-sub.C:
			if e.Type != coordinator.TypeSummaryReady {
				continue
			}
			if e.Summary.RequestID != "r9" || e.Summary.Summary != "- gist of some words" {
				t.Fatalf("summary = %+v", e.Summary)
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for summary-ready")
		}
	}
}

func TestHandleMessage_UsesTabHeader(t *testing.T) {
	h, coord := setupTest(t)

	req := httptest.NewRequest("POST", "/api/messages", strings.NewReader(`{"type":"scribbly:toggle-overlay"}`))
	req.Header.Set(tabHeader, "7")
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !coord.OverlayVisible(7) {
		t.Error("expected overlay visible on tab 7")
	}
	if coord.OverlayVisible(8) {
		t.Error("tab 8 should be untouched")
	}
}

func TestHandleMessage_Errors(t *testing.T) {
	h, _ := setupTest(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{`, "INVALID_REQUEST"},
		{"empty body", ``, "INVALID_REQUEST"},
		{"unknown type", `{"type":"scribbly:nope"}`, "INVALID_REQUEST"},
		{"blank text", `{"type":"scribbly:request-summary","payload":{"requestId":"r","text":"   "}}`, "INVALID_REQUEST"},
		{"bad command", `{"type":"scribbly:overlay-command","command":"explode"}`, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleMessage(rec, httptest.NewRequest("POST", "/api/messages", strings.NewReader(tt.body)))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.code) {
				t.Errorf("body = %s, want code %s", rec.Body.String(), tt.code)
			}
		})
	}
}

// --- Summaries ---

func TestHandleRequestSummary_Sync(t *testing.T) {
	h, _ := setupTest(t)

	body := strings.NewReader(`{"requestId":"r1","text":"hello world","url":"https://a.test","source":"rectangle"}`)
	rec := httptest.NewRecorder()
	h.HandleRequestSummary(rec, httptest.NewRequest("POST", "/api/summaries", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got annotation.SummaryRecord
	decodeJSON(t, rec, &got)
	if got.Status != annotation.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Source != annotation.SourceRectangle {
		t.Errorf("source = %q, want rectangle", got.Source)
	}
	if got.Summary != "- gist of hello world" {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestHandleRequestSummary_CloudWithoutKey(t *testing.T) {
	h, coord := setupTest(t)
	mode := annotation.ModeCloud
	if _, err := coord.UpdateSettings(context.Background(), annotation.SettingsPatch{Mode: &mode}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	body := strings.NewReader(`{"requestId":"r1","text":"hello"}`)
	rec := httptest.NewRecorder()
	h.HandleRequestSummary(rec, httptest.NewRequest("POST", "/api/summaries", body))

	// The failure is recorded on the summary, not returned as a transport error.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got annotation.SummaryRecord
	decodeJSON(t, rec, &got)
	if got.Status != annotation.StatusError {
		t.Errorf("status = %q, want error", got.Status)
	}
	if !strings.Contains(got.Error, "API key") {
		t.Errorf("error = %q", got.Error)
	}
}

func TestHandleListSummaries_FilterByURL(t *testing.T) {
	h, coord := setupTest(t)
	seedSummary(t, coord, "r1", "https://a.test", "first")
	seedSummary(t, coord, "r2", "https://b.test", "second")

	rec := httptest.NewRecorder()
	h.HandleListSummaries(rec, httptest.NewRequest("GET", "/api/summaries?url=https://b.test", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Summaries []annotation.SummaryRecord `json:"summaries"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Summaries) != 1 || resp.Summaries[0].RequestID != "r2" {
		t.Fatalf("summaries = %+v, want only r2", resp.Summaries)
	}
}

func TestHandleListSummaries_Limit(t *testing.T) {
	h, coord := setupTest(t)
	seedSummary(t, coord, "r1", "https://a.test", "first")
	seedSummary(t, coord, "r2", "https://a.test", "second")
	seedSummary(t, coord, "r3", "https://a.test", "third")

	rec := httptest.NewRecorder()
	h.HandleListSummaries(rec, httptest.NewRequest("GET", "/api/summaries?limit=2", nil))

	var resp struct {
		Summaries []annotation.SummaryRecord `json:"summaries"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(resp.Summaries))
	}
}

// --- Drawings ---

func TestHandleDrawings_SaveThenFetch(t *testing.T) {
	h, _ := setupTest(t)

	body := strings.NewReader(`{"url":"https://a.test","strokes":[{"id":"s1","color":"#0ea5e9","width":3,"opacity":1,"tool":"pen","points":[{"x":1,"y":1},{"x":5,"y":5}]}]}`)
	rec := httptest.NewRecorder()
	h.HandleSaveDrawing(rec, httptest.NewRequest("PUT", "/api/drawings", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}
	var saved coordinator.Event
	decodeJSON(t, rec, &saved)
	if saved.Drawing == nil || saved.Drawing.ID == "" {
		t.Fatalf("saved = %+v, want assigned id", saved)
	}

	rec = httptest.NewRecorder()
	h.HandleFetchDrawings(rec, httptest.NewRequest("GET", "/api/drawings?url=https://a.test", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d", rec.Code)
	}
	var fetched coordinator.Event
	decodeJSON(t, rec, &fetched)
	if len(fetched.Drawings) != 1 || fetched.Drawings[0].ID != saved.Drawing.ID {
		t.Fatalf("drawings = %+v", fetched.Drawings)
	}
}

func TestHandleFetchDrawings_EmptyListPresent(t *testing.T) {
	h, _ := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleFetchDrawings(rec, httptest.NewRequest("GET", "/api/drawings?url=https://none.test", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"drawings":[]`) {
		t.Errorf("body = %s, want empty drawings list", rec.Body.String())
	}
}

func TestHandleFetchDrawings_MissingURL(t *testing.T) {
	h, _ := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleFetchDrawings(rec, httptest.NewRequest("GET", "/api/drawings", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- Settings & availability ---

func TestHandleSettings_PatchThenGet(t *testing.T) {
	h, _ := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleUpdateSettings(rec, httptest.NewRequest("PATCH", "/api/settings", strings.NewReader(`{"autoOpenSidePanel":false}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.HandleGetSettings(rec, httptest.NewRequest("GET", "/api/settings", nil))
	var got annotation.Settings
	decodeJSON(t, rec, &got)
	if got.AutoOpenSidePanel {
		t.Error("autoOpenSidePanel should be false after patch")
	}
	if got.Mode != annotation.ModeOnDevice {
		t.Errorf("mode = %q, want unchanged on-device", got.Mode)
	}
}

func TestHandleAvailability_Refresh(t *testing.T) {
	h, _ := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleAvailability(rec, httptest.NewRequest("GET", "/api/availability?refresh=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp coordinator.Event
	decodeJSON(t, rec, &resp)
	if resp.Capabilities == nil || resp.Capabilities.Summarizer.Status != capability.StatusAvailable {
		t.Fatalf("capabilities = %+v", resp.Capabilities)
	}
}

// --- HandlePanel ---

func TestHandlePanel(t *testing.T) {
	h, coord := setupTest(t)
	seedSummary(t, coord, "r1", "https://a.test", "panel text")

	rec := httptest.NewRecorder()
	h.HandlePanel(rec, httptest.NewRequest("GET", "/panel", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<li>gist of panel text</li>") {
		t.Errorf("expected rendered bullet list in panel:\n%s", body)
	}
	if !strings.Contains(body, "Available") {
		t.Error("expected capability state in panel")
	}
}

func TestHandlePanel_HidesAPIKey(t *testing.T) {
	h, coord := setupTest(t)
	key := "secret-key-123"
	if _, err := coord.UpdateSettings(context.Background(), annotation.SettingsPatch{CloudAPIKey: &key}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	rec := httptest.NewRecorder()
	h.HandlePanel(rec, httptest.NewRequest("GET", "/panel", nil))

	if strings.Contains(rec.Body.String(), key) {
		t.Error("panel must not render the cloud API key")
	}
}

func TestHandlePanel_FailedSummaryShowsFixedMessage(t *testing.T) {
	h, coord := setupTest(t)
	mode := annotation.ModeCloud
	if _, err := coord.UpdateSettings(context.Background(), annotation.SettingsPatch{Mode: &mode}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	rec := seedSummary(t, coord, "r1", "https://a.test", "doomed text")
	if rec.Status != annotation.StatusError {
		t.Fatalf("status = %q, want error", rec.Status)
	}

	w := httptest.NewRecorder()
	h.HandlePanel(w, httptest.NewRequest("GET", "/panel", nil))
	body := w.Body.String()

	if !strings.Contains(body, `<p class="error">Unable to summarize this highlight.</p>`) {
		t.Errorf("expected fixed failure message in panel:\n%s", body)
	}
	i := strings.Index(body, `<details class="diagnostics">`)
	if i < 0 {
		t.Fatalf("expected diagnostics block:\n%s", body)
	}
	if !strings.Contains(body[i:], "API key") {
		t.Error("raw error should be kept inside the diagnostics block")
	}
	if strings.Contains(body[:i], "API key") {
		t.Error("raw error must not be shown outside the diagnostics block")
	}
}

// --- HandleCombinedSummary ---

func TestHandleCombinedSummary(t *testing.T) {
	h, coord := setupTest(t)
	seedSummary(t, coord, "r1", "https://a.test", "alpha")
	seedSummary(t, coord, "r2", "https://b.test", "beta")

	rec := httptest.NewRecorder()
	h.HandleCombinedSummary(rec, httptest.NewRequest("GET", "/api/summaries/combined?url=https://a.test", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Text  string `json:"text"`
		Count int    `json:"count"`
		URL   string `json:"url"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Count != 1 || resp.Text != "• - gist of alpha" || resp.URL != "https://a.test" {
		t.Errorf("combined = %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.HandleCombinedSummary(rec, httptest.NewRequest("GET", "/api/summaries/combined", nil))
	decodeJSON(t, rec, &resp)
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestHandleCombinedSummary_Download(t *testing.T) {
	h, coord := setupTest(t)
	seedSummary(t, coord, "r1", "https://a.test", "alpha")

	router := newRouter(t, h)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/summaries/combined?download=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %q", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(cd, `attachment; filename="scribbly-summary-`) || !strings.HasSuffix(cd, `.txt"`) {
		t.Errorf("content-disposition = %q", cd)
	}
	if rec.Body.String() != "• - gist of alpha\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandleCombinedSummary_DownloadEmpty(t *testing.T) {
	h, _ := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleCombinedSummary(rec, httptest.NewRequest("GET", "/api/summaries/combined?download=true", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePanel_CombinedSection(t *testing.T) {
	h, coord := setupTest(t)
	seedSummary(t, coord, "r1", "https://a.test", "alpha")

	rec := httptest.NewRecorder()
	h.HandlePanel(rec, httptest.NewRequest("GET", "/panel", nil))
	body := rec.Body.String()

	if !strings.Contains(body, "Combined Highlights") || !strings.Contains(body, "• - gist of alpha") {
		t.Errorf("expected combined section:\n%s", body)
	}
	if !strings.Contains(body, "/api/summaries/combined?download=true") {
		t.Error("expected download link")
	}
}

// --- Router ---

func TestRouter_ErrorPageForBrowsers(t *testing.T) {
	h, _ := setupTest(t)
	router := newRouter(t, h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/static/panel.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("static status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	h, _ := setupTest(t)
	router := newRouter(t, h)

	req := httptest.NewRequest("OPTIONS", "/api/messages", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", tabHeader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "chrome-extension://abcdef" {
		t.Fatalf("allow-origin = %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/api/messages", nil)
	req.Header.Set("Origin", "https://evil.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q for foreign origin", got)
	}
}

func TestRouter_RejectsForeignOriginWrite(t *testing.T) {
	h, coord := setupTest(t)
	router := newRouter(t, h)

	body := `{"type":"scribbly:update-settings","settings":{"mode":"cloud","cloudApiKey":"attacker-key"}}`
	req := httptest.NewRequest("POST", "/api/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
	if s := coord.Cache().Settings(); s.Mode != annotation.ModeOnDevice || s.CloudAPIKey != "" {
		t.Fatalf("settings changed by foreign origin: %+v", s)
	}
}

func TestRouter_RejectsNonJSONWrite(t *testing.T) {
	h, coord := setupTest(t)
	router := newRouter(t, h)

	body := `{"type":"scribbly:update-settings","settings":{"mode":"cloud","cloudApiKey":"attacker-key"}}`
	req := httptest.NewRequest("POST", "/api/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415: %s", rec.Code, rec.Body.String())
	}
	if s := coord.Cache().Settings(); s.Mode != annotation.ModeOnDevice || s.CloudAPIKey != "" {
		t.Fatalf("settings changed by text/plain request: %+v", s)
	}
}

func TestRouter_AllowsExtensionJSONWrite(t *testing.T) {
	h, coord := setupTest(t)
	router := newRouter(t, h)

	req := httptest.NewRequest("PATCH", "/api/settings", strings.NewReader(`{"enableWriter":true}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Origin", "chrome-extension://abcdef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !coord.Cache().Settings().EnableWriter {
		t.Error("expected enableWriter to be set")
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"chrome-extension://*", "http://localhost:3000"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"chrome-extension://abcdef", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:7777", true}, // own origin
		{"https://evil.example", false},
		{"chrome-extension:/", false},
	}
	for _, tt := range tests {
		if got := originAllowed(tt.origin, "127.0.0.1:7777", allowed); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

// --- HandleEvents ---

func TestHandleEvents_StreamsRedactedSettings(t *testing.T) {
	h, coord := setupTest(t)
	srv := httptest.NewServer(newRouter(t, h))
	defer srv.Close()
	defer h.StopStreams()

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// Wait for the connected comment so the subscription exists.
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q, err = %v", line, err)
	}

	key := "top-secret"
	if _, err := coord.UpdateSettings(context.Background(), annotation.SettingsPatch{CloudAPIKey: &key}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, coordinator.TypeSettings) {
			continue
		}
		if strings.Contains(line, key) {
			t.Fatalf("event leaked API key: %s", line)
		}
		return
	}
	t.Fatal("no settings event received")
}

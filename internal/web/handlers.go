package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/config"
	"github.com/hpungsan/scribbly/internal/coordinator"
	"github.com/hpungsan/scribbly/internal/errors"
	"github.com/hpungsan/scribbly/internal/export"
	"github.com/hpungsan/scribbly/internal/logger"
)

// tabHeader identifies the browser tab a message comes from.
const tabHeader = "X-Scribbly-Tab"

// maxBodyBytes bounds request bodies; drawings carry a PNG data URL.
const maxBodyBytes = 8 << 20

// heartbeatInterval keeps idle event streams open through proxies.
var heartbeatInterval = 15 * time.Second

// Handlers contains the HTTP route handlers.
type Handlers struct {
	coord    *coordinator.Coordinator
	cfg      *config.Config
	log      logger.Logger
	renderer *Renderer

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHandlers creates Handlers.
func NewHandlers(coord *coordinator.Coordinator, cfg *config.Config, renderer *Renderer, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handlers{
		coord:    coord,
		cfg:      cfg,
		log:      log.With("component", "web"),
		renderer: renderer,
		stop:     make(chan struct{}),
	}
}

// StopStreams ends every open event stream.
func (h *Handlers) StopStreams() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "scribbly",
		"version": h.renderer.version,
	})
}

// HandleMessage handles POST /api/messages: one protocol message in, the
// direct response out. Messages answered by broadcast return 202.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req coordinator.Request
	if err := decodeBody(r, &req); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	resp, err := h.coord.Handle(r.Context(), req, tabFromRequest(r))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if resp == nil {
		renderJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "type": req.Type})
		return
	}
	renderJSON(w, http.StatusOK, resp)
}

// HandleEvents handles GET /api/events: a server-sent event stream of
// broadcasts, plus messages addressed to ?tab=.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.renderer.renderError(w, r, errors.NewInternal(fmt.Errorf("streaming unsupported")))
		return
	}

	sub := h.coord.Hub().Subscribe(parseIntParam(r, "tab", 0), 0)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stop:
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(e.Redacted())
			if err != nil {
				h.log.Warn("failed to encode event", "type", e.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleListSummaries handles GET /api/summaries?limit=&url=.
func (h *Handlers) HandleListSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.listSummaries(r, r.URL.Query().Get("url"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// HandleCombinedSummary handles GET /api/summaries/combined?url=&limit=.
// ?download=true serves the text as a file attachment.
func (h *Handlers) HandleCombinedSummary(w http.ResponseWriter, r *http.Request) {
	combined, err := h.coord.CombinedSummary(r.Context(), r.URL.Query().Get("url"), parseIntParam(r, "limit", h.cfg.SummaryListLimit))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if !parseBoolParam(r, "download") {
		renderJSON(w, http.StatusOK, combined)
		return
	}
	if combined.Text == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("no completed summaries to export"))
		return
	}
	name := export.FileName(time.UnixMilli(combined.GeneratedAt))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, combined.Text+"\n")
}

// HandleRequestSummary handles POST /api/summaries. It waits for the terminal
// record unless ?async=true.
func (h *Handlers) HandleRequestSummary(w http.ResponseWriter, r *http.Request) {
	var p annotation.SummaryRequestPayload
	if err := decodeBody(r, &p); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if parseBoolParam(r, "async") {
		if err := h.coord.SubmitSummary(p); err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		renderJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "requestId": p.RequestID})
		return
	}

	rec, err := h.coord.RequestSummary(r.Context(), p)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, rec)
}

// HandleFetchDrawings handles GET /api/drawings?url=.
func (h *Handlers) HandleFetchDrawings(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	drawings, err := h.coord.Drawings(r.Context(), url)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, coordinator.Event{Type: coordinator.TypeDrawings, URL: url, Drawings: drawings})
}

// HandleSaveDrawing handles PUT /api/drawings.
func (h *Handlers) HandleSaveDrawing(w http.ResponseWriter, r *http.Request) {
	var d annotation.DrawingRecord
	if err := decodeBody(r, &d); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if err := h.coord.SaveDrawing(r.Context(), &d); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, coordinator.Event{Type: coordinator.TypeDrawingSaved, Drawing: &d})
}

// HandleAvailability handles GET /api/availability. ?refresh=true re-checks
// every capability; otherwise the cached snapshot is returned.
func (h *Handlers) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Cache().Snapshot()
	if parseBoolParam(r, "refresh") {
		var err error
		if snap, err = h.coord.Cache().Refresh(r.Context()); err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
	}
	renderJSON(w, http.StatusOK, coordinator.Event{Type: coordinator.TypeAvailability, Capabilities: &snap})
}

// HandleGetSettings handles GET /api/settings.
func (h *Handlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.coord.Cache().Settings())
}

// HandleUpdateSettings handles PATCH /api/settings with a partial settings
// object.
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch annotation.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	settings, err := h.coord.UpdateSettings(r.Context(), patch)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, settings)
}

// HandlePanel handles GET /panel: the side panel listing recent summaries,
// optionally for one ?url=.
func (h *Handlers) HandlePanel(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	summaries, err := h.listSummaries(r, url)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	views := make([]SummaryView, len(summaries))
	for i, s := range summaries {
		views[i] = SummaryView{SummaryRecord: s}
		if s.Status == annotation.StatusCompleted {
			views[i].RenderedHTML = renderMarkdown(s.Summary)
		}
	}

	snap := h.coord.Cache().Snapshot()
	caps := make([]CapabilityView, 0, len(capability.Names))
	for _, name := range capability.Names {
		st, _ := snap.Get(name)
		caps = append(caps, CapabilityView{Name: name, State: st})
	}

	settings := h.coord.Cache().Settings()
	settings.CloudAPIKey = ""

	combined, _ := export.Combine(summaries)

	h.renderer.renderPage(w, "panel", PanelPageData{
		PageData: PageData{
			Title:   "Summaries",
			Version: h.renderer.version,
		},
		URL:          url,
		Summaries:    views,
		Combined:     combined,
		Settings:     settings,
		Capabilities: caps,
	})
}

// listSummaries honours ?limit= and narrows to url when it is set.
func (h *Handlers) listSummaries(r *http.Request, url string) ([]annotation.SummaryRecord, error) {
	limit := parseIntParam(r, "limit", h.cfg.SummaryListLimit)
	if url != "" {
		return h.coord.SummariesForURL(r.Context(), url, limit)
	}
	return h.coord.ListSummaries(r.Context(), limit)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.NewInvalidRequest("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.NewInvalidRequest("request body is required")
		}
		return errors.NewInvalidRequest("invalid JSON: " + err.Error())
	}
	return nil
}

// tabFromRequest reads the sender tab from the X-Scribbly-Tab header or the
// ?tab= query parameter.
func tabFromRequest(r *http.Request) int {
	if v, err := strconv.Atoi(r.Header.Get(tabHeader)); err == nil {
		return v
	}
	return parseIntParam(r, "tab", 0)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

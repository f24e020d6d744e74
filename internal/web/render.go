package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/errors"
	"github.com/hpungsan/scribbly/internal/logger"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// SummaryView is one summary as shown in the side panel.
type SummaryView struct {
	annotation.SummaryRecord
	RenderedHTML template.HTML
}

// PanelPageData is the template data for the side panel.
type PanelPageData struct {
	PageData
	URL          string
	Summaries    []SummaryView
	Combined     string
	Settings     annotation.Settings
	Capabilities []CapabilityView
}

// CapabilityView is one row of the availability table.
type CapabilityView struct {
	Name  string
	State capability.DownloadState
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	log       logger.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, log logger.Logger) *Renderer {
	if log == nil {
		log = logger.NewNop()
	}
	funcMap := template.FuncMap{
		"formatTime":  formatTime,
		"statusClass": statusClass,
		"describe":    describeState,
		"failedText":  func() string { return summaryFailedText },
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"panel": "panel.html",
		"error": "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		log:       log,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.log.Error("template not found", "template", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.log.Error("template execution error", "template", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation. API routes
// always get JSON.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	var sErr *errors.ScribblyError
	if !stderrors.As(err, &sErr) {
		sErr = errors.NewInternal(err)
	}

	status := sErr.Status
	message := sErr.Message
	if status >= http.StatusInternalServerError {
		r.log.Error("request failed", "path", req.URL.Path, "error", err)
	}

	if strings.HasPrefix(req.URL.Path, "/api/") || strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(sErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	r.renderPageStatus(w, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

// summaryFailedText is shown for failed summaries; the raw error stays in a
// details block.
const summaryFailedText = "Unable to summarize this highlight."

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix millisecond timestamp as "2006-01-02 15:04" UTC.
func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}

func statusClass(s annotation.Status) string {
	switch s {
	case annotation.StatusCompleted:
		return "ok"
	case annotation.StatusPending:
		return "pending"
	default:
		return "failed"
	}
}

// describeState renders a DownloadState for humans.
func describeState(s capability.DownloadState) string {
	switch s.Status {
	case capability.StatusAvailable:
		return "Available"
	case capability.StatusDownloading:
		if s.Total != nil && *s.Total > 0 {
			return fmt.Sprintf("Downloading %.0f%%", 100*s.Completed / *s.Total)
		}
		return "Downloading"
	case capability.StatusDownloadable:
		if s.Reason != "" {
			return "Downloadable: " + s.Reason
		}
		return "Downloadable"
	default:
		if s.Reason != "" {
			return "Unavailable: " + s.Reason
		}
		return "Unavailable"
	}
}

// Package coordinator owns the summary request lifecycle, the settings and
// capability cache, and the message protocol spoken by overlays and panels.
package coordinator

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/broadcast"
	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/errors"
	"github.com/hpungsan/scribbly/internal/export"
	"github.com/hpungsan/scribbly/internal/logger"
)

// Store is the persistence adapter the coordinator depends on.
type Store interface {
	SaveDrawing(ctx context.Context, d *annotation.DrawingRecord) error
	GetDrawingsByURL(ctx context.Context, url string) ([]annotation.DrawingRecord, error)
	SaveSummary(ctx context.Context, r *annotation.SummaryRecord) error
	UpdateSummaryStatus(ctx context.Context, id string, status annotation.Status, errMsg string) error
	GetSummary(ctx context.Context, id string) (*annotation.SummaryRecord, error)
	ListSummaries(ctx context.Context, limit int) ([]annotation.SummaryRecord, error)
	ListSummariesByURL(ctx context.Context, url string, limit int) ([]annotation.SummaryRecord, error)
	GetCapabilitySnapshot(ctx context.Context) (capability.Snapshot, error)
	SaveCapabilitySnapshot(ctx context.Context, s capability.Snapshot) error
	GetSettings(ctx context.Context) (annotation.Settings, error)
	UpdateSettings(ctx context.Context, patch annotation.SettingsPatch) (annotation.Settings, error)
}

// CloudSummarizer summarizes text with a hosted model.
type CloudSummarizer interface {
	Summarize(ctx context.Context, apiKey, text string) (string, error)
}

// Options configures New.
type Options struct {
	Store        Store
	Capabilities *capability.Set
	Cloud        CloudSummarizer
	Hub          *broadcast.Hub[Event]
	Logger       logger.Logger
	// Streaming consumes on-device output incrementally.
	Streaming bool
	// ListLimit bounds bootstrap summary lists.
	ListLimit int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Coordinator is process-scoped state: construct once at startup, Close on
// shutdown.
type Coordinator struct {
	store     Store
	caps      *capability.Set
	cloud     CloudSummarizer
	hub       *broadcast.Hub[Event]
	cache     *Cache
	log       logger.Logger
	streaming bool
	listLimit int
	now       func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	overlayMu sync.Mutex
	overlay   map[int]bool

	inflight sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	hub := opts.Hub
	if hub == nil {
		hub = broadcast.NewHub[Event](log)
	}
	caps := opts.Capabilities
	if caps == nil {
		caps = capability.NewSet(capability.NoProvider, log)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := opts.ListLimit
	if limit <= 0 {
		limit = 50
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:     opts.Store,
		caps:      caps,
		cloud:     opts.Cloud,
		hub:       hub,
		cache:     NewCache(opts.Store, caps, hub, log),
		log:       log.With("component", "coordinator"),
		streaming: opts.Streaming,
		listLimit: limit,
		now:       now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
		overlay:   make(map[int]bool),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
}

// Start loads cached state and checks capabilities once.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.cache.Load(ctx); err != nil {
		return err
	}
	_, err := c.cache.Refresh(ctx)
	return err
}

// Close waits for in-flight summaries. When ctx expires first they are
// cancelled and Close waits for them to record the cancellation.
func (c *Coordinator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// Hub returns the broadcast hub.
func (c *Coordinator) Hub() *broadcast.Hub[Event] { return c.hub }

// Cache returns the settings and capability cache.
func (c *Coordinator) Cache() *Cache { return c.cache }

// Capabilities returns the capability managers.
func (c *Coordinator) Capabilities() *capability.Set { return c.caps }

func (c *Coordinator) newID() string {
	c.entropyMu.Lock()
	defer c.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(c.now()), c.entropy).String()
}

// validate checks a payload and fills defaults into the copy it returns.
func (c *Coordinator) validate(p annotation.SummaryRequestPayload) (annotation.SummaryRequestPayload, error) {
	if strings.TrimSpace(p.RequestID) == "" {
		return p, errors.NewInvalidRequest("requestId is required")
	}
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		return p, errors.NewInvalidRequest("text must not be empty")
	}
	if p.Source == "" {
		p.Source = annotation.SourceSelection
	}
	if !p.Source.Valid() {
		return p, errors.NewInvalidRequest("source must be selection, rectangle or page")
	}
	if p.TriggeredAt == 0 {
		p.TriggeredAt = c.now().UnixMilli()
	}
	return p, nil
}

// RequestSummary runs the whole lifecycle of one request: a pending record is
// persisted and broadcast, the preferred backend is called, and exactly one
// terminal update follows. Backend failures are recorded, not returned; the
// returned error covers validation and persistence of the pending record.
func (c *Coordinator) RequestSummary(ctx context.Context, payload annotation.SummaryRequestPayload) (*annotation.SummaryRecord, error) {
	p, err := c.validate(payload)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, p)
}

// SubmitSummary validates payload and runs the lifecycle in the background.
// Progress is observable through the hub.
func (c *Coordinator) SubmitSummary(payload annotation.SummaryRequestPayload) error {
	p, err := c.validate(payload)
	if err != nil {
		return err
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if _, err := c.run(c.baseCtx, p); err != nil {
			c.log.Error("summary request failed before dispatch", "requestId", p.RequestID, "error", err)
		}
	}()
	return nil
}

func (c *Coordinator) run(ctx context.Context, p annotation.SummaryRequestPayload) (*annotation.SummaryRecord, error) {
	settings := c.cache.Settings()
	rec := &annotation.SummaryRecord{
		ID:        c.newID(),
		RequestID: p.RequestID,
		Source:    p.Source,
		Text:      p.Text,
		CreatedAt: c.now().UnixMilli(),
		URL:       p.URL,
		Title:     p.Title,
		Status:    annotation.StatusPending,
		Mode:      settings.Mode,
	}
	if err := c.store.SaveSummary(ctx, rec); err != nil {
		return nil, err
	}
	c.hub.Broadcast(progressEvent(rec.RequestID, annotation.StatusPending, ""))
	c.log.Info("summary requested", "requestId", rec.RequestID, "id", rec.ID, "mode", string(rec.Mode), "chars", len(rec.Text))

	summary, err := c.summarizeWith(ctx, settings, rec.Text)

	// Terminal writes must land even if ctx was cancelled.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		return c.fail(writeCtx, rec, err), nil
	}

	completed := *rec
	completed.Summary = annotation.FormatSummaryAsBullets(summary)
	completed.Status = annotation.StatusCompleted
	if err := c.store.SaveSummary(writeCtx, &completed); err != nil {
		return c.fail(writeCtx, rec, err), nil
	}
	c.hub.Broadcast(Event{Type: TypeSummaryReady, Summary: &completed})
	c.log.Info("summary completed", "requestId", rec.RequestID, "id", rec.ID)
	return &completed, nil
}

// fail records the terminal error or cancelled state of rec.
func (c *Coordinator) fail(ctx context.Context, rec *annotation.SummaryRecord, cause error) *annotation.SummaryRecord {
	status := annotation.StatusError
	if errors.Is(cause, errors.ErrCancelled) {
		status = annotation.StatusCancelled
	}
	msg := errors.Message(cause)

	out := *rec
	out.Status = status
	out.Error = msg
	if err := c.store.UpdateSummaryStatus(ctx, rec.ID, status, msg); err != nil {
		c.log.Error("failed to record summary failure", "requestId", rec.RequestID, "id", rec.ID, "error", err)
	}
	c.hub.Broadcast(progressEvent(rec.RequestID, status, msg))
	c.log.Warn("summary failed", "requestId", rec.RequestID, "status", string(status), "error", cause)
	return &out
}

// SummarizeWithPreference dispatches text to the backend selected by the
// current mode.
func (c *Coordinator) SummarizeWithPreference(ctx context.Context, text string) (string, error) {
	return c.summarizeWith(ctx, c.cache.Settings(), text)
}

// summarizeWith dispatches using the given settings snapshot so a record's
// mode always names the backend that produced it.
func (c *Coordinator) summarizeWith(ctx context.Context, settings annotation.Settings, text string) (string, error) {
	if settings.Mode == annotation.ModeCloud {
		if settings.CloudAPIKey == "" {
			return "", errors.NewMissingAPIKey()
		}
		if c.cloud == nil {
			return "", errors.NewCapabilityUnavailable("cloud", "cloud summarizer is not configured")
		}
		return c.cloud.Summarize(ctx, settings.CloudAPIKey, text)
	}

	return c.caps.Summarizer.Invoke(ctx, capability.Input{Text: text}, capability.InvokeOptions{
		Streaming: c.streaming,
		OnProgress: func(st capability.DownloadState) {
			_ = c.cache.Patch(context.WithoutCancel(ctx), capability.NameSummarizer, st)
		},
	})
}

// Bootstrap returns settings, recent summaries and the cached snapshot.
func (c *Coordinator) Bootstrap(ctx context.Context) (*BootstrapPayload, error) {
	summaries, err := c.store.ListSummaries(ctx, c.listLimit)
	if err != nil {
		return nil, err
	}
	return &BootstrapPayload{
		Settings:     c.cache.Settings(),
		Summaries:    summaries,
		Capabilities: c.cache.Snapshot(),
	}, nil
}

// ListSummaries returns recent summaries, newest first.
func (c *Coordinator) ListSummaries(ctx context.Context, limit int) ([]annotation.SummaryRecord, error) {
	if limit <= 0 {
		limit = c.listLimit
	}
	return c.store.ListSummaries(ctx, limit)
}

// SummariesForURL returns recent summaries of one page, newest first.
func (c *Coordinator) SummariesForURL(ctx context.Context, url string, limit int) ([]annotation.SummaryRecord, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.NewInvalidRequest("url is required")
	}
	if limit <= 0 {
		limit = c.listLimit
	}
	return c.store.ListSummariesByURL(ctx, url, limit)
}

// CombinedSummary joins the completed summaries of ListSummaries, or of
// SummariesForURL when url is set, newest first.
func (c *Coordinator) CombinedSummary(ctx context.Context, url string, limit int) (*export.Combined, error) {
	var (
		records []annotation.SummaryRecord
		err     error
	)
	if url != "" {
		records, err = c.SummariesForURL(ctx, url, limit)
	} else {
		records, err = c.ListSummaries(ctx, limit)
	}
	if err != nil {
		return nil, err
	}
	text, count := export.Combine(records)
	return &export.Combined{
		Text:        text,
		Count:       count,
		URL:         url,
		GeneratedAt: c.now().UnixMilli(),
	}, nil
}

// Summary returns one summary record by id.
func (c *Coordinator) Summary(ctx context.Context, id string) (*annotation.SummaryRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	return c.store.GetSummary(ctx, id)
}

// UpdateSettings persists a partial update. Changing mode or enableWriter
// resets every capability session and re-checks availability.
func (c *Coordinator) UpdateSettings(ctx context.Context, patch annotation.SettingsPatch) (annotation.Settings, error) {
	settings, err := c.cache.UpdateSettings(ctx, patch)
	if err != nil {
		return annotation.Settings{}, err
	}
	if patch.AffectsCapabilities() {
		c.caps.ResetAll()
		if _, err := c.cache.Refresh(ctx); err != nil {
			c.log.Warn("capability refresh after settings change failed", "error", err)
		}
	}
	c.hub.Broadcast(settingsEvent(settings))
	return settings, nil
}

// SaveDrawing persists d, assigning an id and timestamps when missing.
func (c *Coordinator) SaveDrawing(ctx context.Context, d *annotation.DrawingRecord) error {
	if d == nil || d.URL == "" {
		return errors.NewInvalidRequest("drawing url is required")
	}
	for _, s := range d.Strokes {
		if len(s.Points) == 0 {
			return errors.NewInvalidRequest("stroke " + s.ID + " has no points")
		}
		if s.Tool == annotation.ToolRectangle && len(s.Points) != 5 {
			return errors.NewInvalidRequest("rectangle stroke " + s.ID + " must have 5 points")
		}
	}

	now := c.now().UnixMilli()
	if d.ID == "" {
		d.ID = c.newID()
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}
	if d.UpdatedAt == 0 {
		d.UpdatedAt = now
	}
	return c.store.SaveDrawing(ctx, d)
}

// Drawings returns the drawings stored for url, newest first.
func (c *Coordinator) Drawings(ctx context.Context, url string) ([]annotation.DrawingRecord, error) {
	if url == "" {
		return nil, errors.NewInvalidRequest("url is required")
	}
	return c.store.GetDrawingsByURL(ctx, url)
}

// OverlayVisible reports the recorded overlay visibility of tab.
func (c *Coordinator) OverlayVisible(tab int) bool {
	c.overlayMu.Lock()
	defer c.overlayMu.Unlock()
	return c.overlay[tab]
}

func (c *Coordinator) setOverlay(tab int, visible *bool) bool {
	c.overlayMu.Lock()
	defer c.overlayMu.Unlock()
	next := !c.overlay[tab]
	if visible != nil {
		next = *visible
	}
	c.overlay[tab] = next
	return next
}

// ToggleOverlay flips (or sets) the overlay visibility of tab and notifies it.
func (c *Coordinator) ToggleOverlay(tab int, visible *bool) bool {
	next := c.setOverlay(tab, visible)
	c.sendToTab(tab, toggleEvent(next))
	return next
}

// SetTool shows the overlay of tab and selects tool.
func (c *Coordinator) SetTool(tab int, tool annotation.Tool) error {
	if !tool.Valid() {
		return errors.NewInvalidRequest("unknown tool: " + string(tool))
	}
	show := true
	c.setOverlay(tab, &show)
	c.sendToTab(tab, toggleEvent(true))
	c.sendToTab(tab, Event{Type: TypeSetTool, Tool: tool})
	return nil
}

// OverlayCommand relays cmd to the overlay of tab.
func (c *Coordinator) OverlayCommand(tab int, cmd Command) error {
	if !cmd.Valid() {
		return errors.NewInvalidRequest("unknown command: " + string(cmd))
	}
	c.sendToTab(tab, Event{Type: TypeOverlayCommand, Command: cmd})
	return nil
}

func (c *Coordinator) sendToTab(tab int, e Event) {
	if err := c.hub.SendToTab(tab, e); err != nil {
		c.log.Warn("failed to send message to tab", "tab", tab, "type", e.Type, "error", err)
	}
}

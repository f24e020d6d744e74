// Package overlay implements the annotation overlay: the stroke model with
// undo and redo, rectangle selection, text extraction under a gesture and the
// pinned summary panel. Rendering goes through a Surface and page text comes
// from a Document, so the overlay runs headless.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/coordinator"
	"github.com/hpungsan/scribbly/internal/logger"
)

// Stroke styles.
const (
	HighlighterColor   = "rgba(250, 204, 21, 0.35)"
	HighlighterWidth   = 18
	HighlighterOpacity = 0.35

	EraserColor = "rgba(0,0,0,1)"
	EraserSize  = 24

	PenColor = "#0ea5e9"
	PenWidth = 3

	RectangleFillColor   = "rgba(14, 165, 233, 0.18)"
	RectangleBorderColor = "#0ea5e9"
	RectangleBorderWidth = 3
)

// MinRectSize is the exclusive lower bound on both sides of a rectangle
// selection. Smaller drags are discarded.
const MinRectSize = 2

// Panel texts.
const (
	PanelPlaceholder = "Highlight or draw a rectangle to pin text."
	PanelPending     = "Summarizing highlight..."
	PanelError       = "Unable to summarize this highlight."
)

// State is the gesture phase.
type State int

const (
	StateIdle State = iota
	StateDrawingStroke
	StateDrawingRect
)

func (s State) String() string {
	switch s {
	case StateDrawingStroke:
		return "drawing-stroke"
	case StateDrawingRect:
		return "drawing-rect"
	default:
		return "idle"
	}
}

// Dispatcher carries overlay requests to the coordinator.
type Dispatcher interface {
	RequestSummary(ctx context.Context, p annotation.SummaryRequestPayload) error
	SaveDrawing(ctx context.Context, d annotation.DrawingRecord) error
	FetchDrawings(ctx context.Context, url string) ([]annotation.DrawingRecord, error)
}

// Panel is the pinned summary panel content.
type Panel struct {
	Text        string
	Placeholder bool
}

// Config configures New.
type Config struct {
	URL        string
	Title      string
	Width      int
	Height     int
	Surface    Surface
	Document   Document
	Dispatcher Dispatcher
	Logger     logger.Logger
	// NewID and Now override id generation and the clock in tests.
	NewID func() string
	Now   func() time.Time
}

type rectSelection struct {
	start   annotation.Point
	current annotation.Point
}

// Overlay is the per-page annotation state machine. Methods are safe for
// concurrent use; operations apply in call order.
type Overlay struct {
	url   string
	title string
	surf  Surface
	doc   Document
	disp  Dispatcher
	log   logger.Logger
	newID func() string
	now   func() time.Time

	mu            sync.Mutex
	tool          annotation.Tool
	state         State
	strokes       []annotation.Stroke
	redo          []annotation.Stroke
	current       *annotation.Stroke
	selection     *rectSelection
	visible       bool
	scroll        annotation.Point
	drawingID     string
	createdAt     int64
	panel         Panel
	lastRequestID string
}

// New creates a hidden overlay with the highlighter selected. It fails when
// no drawing surface is available.
func New(cfg Config) (*Overlay, error) {
	if cfg.Surface == nil {
		return nil, fmt.Errorf("overlay: no drawing surface")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("overlay: no dispatcher")
	}
	if cfg.Document == nil {
		cfg.Document = &StaticDocument{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		if err := cfg.Surface.Resize(cfg.Width, cfg.Height); err != nil {
			return nil, fmt.Errorf("overlay: resize surface: %w", err)
		}
	}

	return &Overlay{
		url:   cfg.URL,
		title: cfg.Title,
		surf:  cfg.Surface,
		doc:   cfg.Document,
		disp:  cfg.Dispatcher,
		log:   cfg.Logger.With("component", "overlay", "url", cfg.URL),
		newID: cfg.NewID,
		now:   cfg.Now,
		tool:  annotation.ToolHighlighter,
		panel: Panel{Text: PanelPlaceholder, Placeholder: true},
	}, nil
}

// Restore loads the newest stored drawing for the page.
func (o *Overlay) Restore(ctx context.Context) error {
	drawings, err := o.disp.FetchDrawings(ctx, o.url)
	if err != nil {
		return err
	}
	if len(drawings) > 0 {
		o.mu.Lock()
		o.load(drawings[0])
		o.mu.Unlock()
	}
	return nil
}

func (o *Overlay) load(d annotation.DrawingRecord) {
	o.drawingID = d.ID
	o.createdAt = d.CreatedAt
	o.strokes = append([]annotation.Stroke(nil), d.Strokes...)
	o.redo = nil
	o.redraw()
}

// Tool returns the selected tool.
func (o *Overlay) Tool() annotation.Tool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tool
}

// State returns the gesture phase.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Visible reports whether the overlay accepts pointer input.
func (o *Overlay) Visible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visible
}

// Strokes returns a copy of the committed strokes.
func (o *Overlay) Strokes() []annotation.Stroke {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]annotation.Stroke(nil), o.strokes...)
}

// RedoStack returns a copy of the redo stack, oldest first.
func (o *Overlay) RedoStack() []annotation.Stroke {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]annotation.Stroke(nil), o.redo...)
}

// Panel returns the panel content.
func (o *Overlay) Panel() Panel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.panel
}

// LastRequestID returns the id of the summary the panel is waiting for.
func (o *Overlay) LastRequestID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRequestID
}

// DrawingID returns the persisted drawing id, empty before the first save.
func (o *Overlay) DrawingID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drawingID
}

// Indicator returns the live rectangle selection in viewport coordinates.
func (o *Overlay) Indicator() (annotation.RectPayload, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selection == nil {
		return annotation.RectPayload{}, false
	}
	r := annotation.BuildRectPayload(o.selection.start, o.selection.current)
	return r.Translate(-o.scroll.X, -o.scroll.Y), true
}

// SetTool selects the tool used by the next gesture.
func (o *Overlay) SetTool(tool annotation.Tool) error {
	if !tool.Valid() {
		return fmt.Errorf("overlay: unknown tool %q", tool)
	}
	o.mu.Lock()
	o.tool = tool
	o.mu.Unlock()
	return nil
}

// Toggle shows or hides the overlay. Hiding cancels a rectangle selection in
// progress.
func (o *Overlay) Toggle(visible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setVisible(visible)
}

func (o *Overlay) setVisible(visible bool) {
	o.visible = visible
	if !visible {
		o.selection = nil
		if o.state == StateDrawingRect {
			o.state = StateIdle
		}
	}
}

// Scroll records the page scroll offset and redraws.
func (o *Overlay) Scroll(x, y float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scroll = annotation.Point{X: x, Y: y}
	o.redraw()
}

// Resize resizes the surface to the viewport and redraws.
func (o *Overlay) Resize(width, height int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.surf.Resize(width, height); err != nil {
		return err
	}
	o.redraw()
	return nil
}

func (o *Overlay) toPage(x, y float64) annotation.Point {
	return annotation.Point{X: x + o.scroll.X, Y: y + o.scroll.Y}
}

// PointerDown starts a gesture at viewport position (x, y). Ignored while
// hidden.
func (o *Overlay) PointerDown(x, y float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.visible {
		return
	}

	p := o.toPage(x, y)
	if o.tool == annotation.ToolRectangle {
		o.state = StateDrawingRect
		o.selection = &rectSelection{start: p, current: p}
		return
	}

	o.state = StateDrawingStroke
	o.current = newStroke(o.newID(), o.tool, p)
	o.redo = nil
}

func newStroke(id string, tool annotation.Tool, p annotation.Point) *annotation.Stroke {
	s := &annotation.Stroke{ID: id, Tool: tool, Points: []annotation.Point{p}}
	switch tool {
	case annotation.ToolHighlighter:
		s.Color, s.Width, s.Opacity = HighlighterColor, HighlighterWidth, HighlighterOpacity
	case annotation.ToolEraser:
		s.Color, s.Width, s.Opacity = EraserColor, EraserSize, 1
	default:
		s.Color, s.Width, s.Opacity = PenColor, PenWidth, 1
	}
	return s
}

// PointerMove extends the gesture in progress.
func (o *Overlay) PointerMove(x, y float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.toPage(x, y)
	switch o.state {
	case StateDrawingRect:
		if o.selection != nil {
			o.selection.current = p
		}
	case StateDrawingStroke:
		if o.current == nil {
			return
		}
		o.current.Points = append(o.current.Points, p)
		o.drawStroke(*o.current)
	}
}

// PointerUp finishes the gesture in progress.
func (o *Overlay) PointerUp(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateDrawingRect:
		o.state = StateIdle
		return o.finishRect(ctx)
	case StateDrawingStroke:
		o.state = StateIdle
		return o.finishStroke(ctx)
	}
	return nil
}

// PointerLeave behaves like PointerUp.
func (o *Overlay) PointerLeave(ctx context.Context) error {
	return o.PointerUp(ctx)
}

func (o *Overlay) finishRect(ctx context.Context) error {
	sel := o.selection
	o.selection = nil
	if sel == nil {
		return nil
	}

	rect := annotation.BuildRectPayload(sel.start, sel.current)
	if rect.Width <= MinRectSize || rect.Height <= MinRectSize {
		return nil
	}

	var errs []error
	if err := o.submitRect(ctx, annotation.SourceRectangle, rect); err != nil {
		errs = append(errs, err)
	}

	o.strokes = append(o.strokes, annotation.Stroke{
		ID:      o.newID(),
		Color:   RectangleBorderColor,
		Width:   RectangleBorderWidth,
		Opacity: 1,
		Points:  annotation.RectanglePoints(rect),
		Tool:    annotation.ToolRectangle,
	})
	o.redo = nil
	o.redraw()
	if err := o.persist(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (o *Overlay) finishStroke(ctx context.Context) error {
	s := o.current
	o.current = nil
	if s == nil {
		return nil
	}
	o.strokes = append(o.strokes, *s)
	o.redraw()

	var errs []error
	if s.Tool == annotation.ToolHighlighter {
		if rect, ok := annotation.RectFromPoints(s.Points); ok {
			if err := o.submitRect(ctx, annotation.SourceSelection, rect); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := o.persist(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// submitRect extracts the text under rect and requests its summary.
// Nothing is sent when no text is found.
func (o *Overlay) submitRect(ctx context.Context, source annotation.Source, rect annotation.RectPayload) error {
	text, err := ExtractTextFromRect(ctx, o.doc, rect, o.scroll)
	if err != nil {
		o.log.Warn("text extraction failed", "error", err)
		return nil
	}
	r := rect
	_, err = o.submit(ctx, text, source, &r)
	return err
}

// submit sends a summary request for text and returns its request id, or ""
// when text is blank.
func (o *Overlay) submit(ctx context.Context, text string, source annotation.Source, rect *annotation.RectPayload) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	o.setPanel(PanelPending)

	p := annotation.SummaryRequestPayload{
		RequestID:   o.newID(),
		Text:        text,
		URL:         o.url,
		Title:       o.title,
		Source:      source,
		Rect:        rect,
		TriggeredAt: o.now().UnixMilli(),
	}
	if err := o.disp.RequestSummary(ctx, p); err != nil {
		o.setPanel(PanelError)
		o.lastRequestID = ""
		return "", fmt.Errorf("overlay: request summary: %w", err)
	}
	o.lastRequestID = p.RequestID
	return p.RequestID, nil
}

// Undo moves the newest stroke to the redo stack. No-op when there are no
// strokes.
func (o *Overlay) Undo(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.strokes)
	if n == 0 {
		return nil
	}
	o.redo = append(o.redo, o.strokes[n-1])
	o.strokes = o.strokes[:n-1]
	o.redraw()
	return o.persist(ctx)
}

// Redo restores the newest undone stroke. No-op when the redo stack is empty.
func (o *Overlay) Redo(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.redo)
	if n == 0 {
		return nil
	}
	o.strokes = append(o.strokes, o.redo[n-1])
	o.redo = o.redo[:n-1]
	o.redraw()
	return o.persist(ctx)
}

// Clear removes every stroke, cancels the rectangle selection and resets the
// panel. The drawing id is kept.
func (o *Overlay) Clear(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strokes = nil
	o.redo = nil
	o.surf.Clear()
	o.selection = nil
	if o.state == StateDrawingRect {
		o.state = StateIdle
	}
	o.setPanel("")
	return o.persist(ctx)
}

// SummarizeSelection requests a summary of the document's current text
// selection.
func (o *Overlay) SummarizeSelection(ctx context.Context) error {
	text, clientRect, err := o.doc.Selection(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var rect *annotation.RectPayload
	if clientRect != nil {
		r := clientRect.Translate(o.scroll.X, o.scroll.Y)
		rect = &r
	}
	_, err = o.submit(ctx, text, annotation.SourceSelection, rect)
	return err
}

// SummarizePage requests a summary of every text node in the document.
func (o *Overlay) SummarizePage(ctx context.Context) error {
	nodes, err := o.doc.TextNodes(ctx)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if strings.TrimSpace(n.Text) != "" {
			parts = append(parts, n.Text)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err = o.submit(ctx, annotation.CollapseWhitespace(strings.Join(parts, " ")), annotation.SourcePage, nil)
	return err
}

// RunCommand runs a toolbar command.
func (o *Overlay) RunCommand(ctx context.Context, cmd coordinator.Command) error {
	switch cmd {
	case coordinator.CommandUndo:
		return o.Undo(ctx)
	case coordinator.CommandRedo:
		return o.Redo(ctx)
	case coordinator.CommandClear:
		return o.Clear(ctx)
	case coordinator.CommandSummarizeSelection:
		return o.SummarizeSelection(ctx)
	default:
		return fmt.Errorf("overlay: unknown command %q", cmd)
	}
}

func (o *Overlay) setPanel(text string) {
	if text == "" {
		o.panel = Panel{Text: PanelPlaceholder, Placeholder: true}
		return
	}
	o.panel = Panel{Text: text}
}

// persist saves the current strokes under the page's drawing id.
func (o *Overlay) persist(ctx context.Context) error {
	now := o.now().UnixMilli()
	if o.drawingID == "" {
		o.drawingID = o.newID()
		o.createdAt = now
	}
	if o.createdAt == 0 {
		o.createdAt = now
	}

	d := annotation.DrawingRecord{
		ID:        o.drawingID,
		URL:       o.url,
		CreatedAt: o.createdAt,
		UpdatedAt: now,
		Strokes:   append([]annotation.Stroke{}, o.strokes...),
	}
	if img, err := o.surf.DataURL(); err != nil {
		o.log.Debug("snapshot failed", "error", err)
	} else {
		d.ImageDataURL = img
	}

	if err := o.disp.SaveDrawing(ctx, d); err != nil {
		o.log.Warn("failed to save drawing", "id", d.ID, "error", err)
		return fmt.Errorf("overlay: save drawing: %w", err)
	}
	return nil
}

package overlay

import (
	"context"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/coordinator"
)

// HandleEvent applies a coordinator message addressed to this page.
// Messages for other pages or other requests are ignored.
func (o *Overlay) HandleEvent(ctx context.Context, e coordinator.Event) error {
	switch e.Type {
	case coordinator.TypeOverlayToggle:
		if e.Visible != nil {
			o.Toggle(*e.Visible)
		}

	case coordinator.TypeDrawings:
		if e.URL != o.url || len(e.Drawings) == 0 {
			return nil
		}
		o.mu.Lock()
		o.load(e.Drawings[0])
		o.mu.Unlock()

	case coordinator.TypeSetTool:
		o.Toggle(true)
		return o.SetTool(e.Tool)

	case coordinator.TypeOverlayCommand:
		o.Toggle(true)
		return o.RunCommand(ctx, e.Command)

	case coordinator.TypeSummaryReady:
		if e.Summary == nil || e.Summary.URL != o.url {
			return nil
		}
		o.mu.Lock()
		if o.lastRequestID == "" || e.Summary.RequestID == o.lastRequestID {
			o.setPanel(annotation.FormatSummaryAsBullets(e.Summary.Summary))
			o.lastRequestID = ""
		}
		o.mu.Unlock()

	case coordinator.TypeSummaryProgress:
		if e.Status != annotation.StatusError && e.Status != annotation.StatusCancelled {
			return nil
		}
		o.mu.Lock()
		if o.lastRequestID == "" || e.RequestID == o.lastRequestID {
			o.setPanel(PanelError)
			o.lastRequestID = ""
		}
		o.mu.Unlock()
	}
	return nil
}

// Run applies events until ctx is done or events is closed.
func (o *Overlay) Run(ctx context.Context, events <-chan coordinator.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := o.HandleEvent(ctx, e); err != nil {
				o.log.Warn("failed to apply event", "type", e.Type, "error", err)
			}
		}
	}
}

// LocalDispatcher sends overlay requests to an in-process coordinator.
type LocalDispatcher struct {
	C *coordinator.Coordinator
}

// RequestSummary submits p; progress arrives as broadcast events.
func (d LocalDispatcher) RequestSummary(_ context.Context, p annotation.SummaryRequestPayload) error {
	return d.C.SubmitSummary(p)
}

// SaveDrawing persists a copy of drawing.
func (d LocalDispatcher) SaveDrawing(ctx context.Context, drawing annotation.DrawingRecord) error {
	return d.C.SaveDrawing(ctx, &drawing)
}

// FetchDrawings returns the drawings stored for url, newest first.
func (d LocalDispatcher) FetchDrawings(ctx context.Context, url string) ([]annotation.DrawingRecord, error) {
	return d.C.Drawings(ctx, url)
}

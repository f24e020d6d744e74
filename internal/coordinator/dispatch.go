package coordinator

import (
	"context"

	"github.com/hpungsan/scribbly/internal/errors"
)

// Handle answers one protocol message. senderTab identifies the tab the
// message came from and is used when the request does not name a tab.
// A nil event means the message has no direct response; its effects are
// broadcast instead.
func (c *Coordinator) Handle(ctx context.Context, req Request, senderTab int) (*Event, error) {
	switch req.Type {
	case TypeBootstrap:
		payload, err := c.Bootstrap(ctx)
		if err != nil {
			return nil, err
		}
		return &Event{Type: TypeBootstrapResponse, Payload: payload}, nil

	case TypeGetAvailability:
		snap, err := c.cache.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		e := availabilityEvent(snap)
		return &e, nil

	case TypeUpdateSettings:
		if req.Settings == nil {
			return nil, errors.NewInvalidRequest("settings is required")
		}
		settings, err := c.UpdateSettings(ctx, *req.Settings)
		if err != nil {
			return nil, err
		}
		e := settingsEvent(settings)
		return &e, nil

	case TypeRequestSummary:
		if req.Payload == nil {
			return nil, errors.NewInvalidRequest("payload is required")
		}
		if err := c.SubmitSummary(*req.Payload); err != nil {
			return nil, err
		}
		return nil, nil

	case TypeSaveDrawing:
		if req.Drawing == nil {
			return nil, errors.NewInvalidRequest("drawing is required")
		}
		if err := c.SaveDrawing(ctx, req.Drawing); err != nil {
			return nil, err
		}
		return &Event{Type: TypeDrawingSaved, Drawing: req.Drawing}, nil

	case TypeFetchDrawings:
		drawings, err := c.Drawings(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		return &Event{Type: TypeDrawings, URL: req.URL, Drawings: drawings}, nil

	case TypeToggleOverlay:
		visible := c.ToggleOverlay(targetTab(req, senderTab), req.Visible)
		e := toggleEvent(visible)
		return &e, nil

	case TypeSetTool:
		if err := c.SetTool(targetTab(req, senderTab), req.Tool); err != nil {
			return nil, err
		}
		return nil, nil

	case TypeOverlayCommand:
		if err := c.OverlayCommand(targetTab(req, senderTab), req.Command); err != nil {
			return nil, err
		}
		return nil, nil

	case "":
		return nil, errors.NewInvalidRequest("type is required")
	default:
		return nil, errors.NewInvalidRequest("unknown message type: " + req.Type)
	}
}

func targetTab(req Request, senderTab int) int {
	if req.TabID != 0 {
		return req.TabID
	}
	return senderTab
}

package overlay

import "github.com/hpungsan/scribbly/internal/annotation"

// Style describes how a path is stroked.
type Style struct {
	Color string
	Width float64
	// Erase clears the pixels under the path instead of painting them.
	Erase bool
}

// Surface is a 2D drawing target in viewport coordinates.
type Surface interface {
	Resize(width, height int) error
	Clear()
	StrokePath(points []annotation.Point, style Style)
	FillRect(r annotation.RectPayload, color string)
	StrokeRect(r annotation.RectPayload, color string, width float64)
	// DataURL encodes the current pixels as a PNG data URL.
	DataURL() (string, error)
}

func (o *Overlay) redraw() {
	o.surf.Clear()
	for _, s := range o.strokes {
		o.drawStroke(s)
	}
}

// drawStroke renders s, translating page coordinates by the scroll offset.
func (o *Overlay) drawStroke(s annotation.Stroke) {
	dx, dy := -o.scroll.X, -o.scroll.Y

	if s.Tool == annotation.ToolRectangle {
		rect, ok := annotation.RectFromPoints(s.Points)
		if !ok {
			return
		}
		rect = rect.Translate(dx, dy)
		o.surf.FillRect(rect, RectangleFillColor)
		o.surf.StrokeRect(rect, RectangleBorderColor, RectangleBorderWidth)
		return
	}

	points := make([]annotation.Point, len(s.Points))
	for i, p := range s.Points {
		points[i] = annotation.Point{X: p.X + dx, Y: p.Y + dy}
	}
	style := Style{Color: s.Color, Width: s.Width}
	if s.Tool == annotation.ToolEraser {
		style = Style{Color: EraserColor, Width: s.Width, Erase: true}
	}
	o.surf.StrokePath(points, style)
}

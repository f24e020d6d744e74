package overlay

import (
	"context"
	"strings"

	"github.com/hpungsan/scribbly/internal/annotation"
)

// TextNode is one text node of the page with its client rectangles, in
// viewport coordinates.
type TextNode struct {
	Text  string                   `json:"text"`
	Rects []annotation.RectPayload `json:"rects"`
}

// Document is read-only access to the page under the overlay.
type Document interface {
	// TextNodes returns the text nodes of the body in document order.
	TextNodes(ctx context.Context) ([]TextNode, error)
	// TextAt returns the text content of the element at viewport position
	// (x, y), or "" when there is none.
	TextAt(ctx context.Context, x, y float64) (string, error)
	// Selection returns the current text selection and its bounding client
	// rectangle, if any.
	Selection(ctx context.Context) (string, *annotation.RectPayload, error)
}

// ExtractTextFromRect returns the text of every node whose client rectangles
// overlap rect (page coordinates) once shifted by scroll. When nothing
// overlaps, the element at the centre of rect is used. The result is
// whitespace-collapsed; "" means no text.
func ExtractTextFromRect(ctx context.Context, doc Document, rect annotation.RectPayload, scroll annotation.Point) (string, error) {
	nodes, err := doc.TextNodes(ctx)
	if err != nil {
		return "", err
	}

	var collected []string
	for _, n := range nodes {
		if strings.TrimSpace(n.Text) == "" {
			continue
		}
		for _, client := range n.Rects {
			if rect.Intersects(client.Translate(scroll.X, scroll.Y)) {
				collected = append(collected, n.Text)
				break
			}
		}
	}
	if text := annotation.CollapseWhitespace(strings.Join(collected, " ")); text != "" {
		return text, nil
	}

	c := rect.Center()
	text, err := doc.TextAt(ctx, c.X-scroll.X, c.Y-scroll.Y)
	if err != nil {
		return "", err
	}
	return annotation.CollapseWhitespace(text), nil
}

// StaticElement is an element of a StaticDocument.
type StaticElement struct {
	Text string
	Rect annotation.RectPayload
}

// StaticDocument is a fixed page snapshot.
type StaticDocument struct {
	Nodes    []TextNode
	Elements []StaticElement
	// Selected is the current selection text; SelectedRect its client rect.
	Selected     string
	SelectedRect *annotation.RectPayload
}

// TextNodes returns the snapshot's text nodes.
func (d *StaticDocument) TextNodes(context.Context) ([]TextNode, error) {
	return d.Nodes, nil
}

// TextAt returns the text of the last element containing (x, y), which is the
// topmost one when elements are listed in paint order.
func (d *StaticDocument) TextAt(_ context.Context, x, y float64) (string, error) {
	for i := len(d.Elements) - 1; i >= 0; i-- {
		r := d.Elements[i].Rect
		if x >= r.X && x <= r.Right() && y >= r.Y && y <= r.Bottom() {
			return d.Elements[i].Text, nil
		}
	}
	return "", nil
}

// Selection returns the configured selection.
func (d *StaticDocument) Selection(context.Context) (string, *annotation.RectPayload, error) {
	return d.Selected, d.SelectedRect, nil
}

// Package cdpdoc exposes a live Chrome tab as an overlay Document through the
// DevTools protocol.
package cdpdoc

import (
	"context"
	"fmt"
	"strings"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/overlay"
)

// Page is an attached browser tab.
type Page struct {
	conn   *rpcc.Conn
	client *cdp.Client
	target *devtool.Target
}

// Viewport describes the visible area of a page.
type Viewport struct {
	URL     string
	Title   string
	Width   int
	Height  int
	ScrollX float64
	ScrollY float64
}

// Attach connects to the first page target of devtoolsURL whose URL contains
// match. An empty match selects the first page.
func Attach(ctx context.Context, devtoolsURL, match string) (*Page, error) {
	targets, err := devtool.New(devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	sel := selectTarget(targets, match)
	if sel == nil {
		return nil, fmt.Errorf("no page target matching %q", match)
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	return &Page{conn: conn, client: cdp.NewClient(conn), target: sel}, nil
}

func selectTarget(targets []*devtool.Target, match string) *devtool.Target {
	for _, t := range targets {
		if t == nil || t.Type != devtool.Page {
			continue
		}
		if match == "" || strings.Contains(t.URL, match) {
			return t
		}
	}
	return nil
}

// URL returns the tab URL at attach time.
func (p *Page) URL() string { return p.target.URL }

// Title returns the tab title at attach time.
func (p *Page) Title() string { return p.target.Title }

// Close closes the DevTools connection.
func (p *Page) Close() error { return p.conn.Close() }

// eval evaluates expr in the page and returns its JSON value.
func (p *Page) eval(ctx context.Context, expr string) (gjson.Result, error) {
	reply, err := p.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).SetReturnByValue(true))
	if err != nil {
		return gjson.Result{}, err
	}
	if reply.ExceptionDetails != nil {
		return gjson.Result{}, fmt.Errorf("evaluate: %s", reply.ExceptionDetails.Text)
	}
	return gjson.ParseBytes(reply.Result.Value), nil
}

// Viewport reads the current viewport size and scroll offset.
func (p *Page) Viewport(ctx context.Context) (Viewport, error) {
	res, err := p.eval(ctx, viewportJS)
	if err != nil {
		return Viewport{}, err
	}
	return parseViewport(res), nil
}

// TextNodes returns the non-blank text nodes of the body with their client
// rectangles.
func (p *Page) TextNodes(ctx context.Context) ([]overlay.TextNode, error) {
	res, err := p.eval(ctx, textNodesJS)
	if err != nil {
		return nil, err
	}
	return parseTextNodes(res), nil
}

// TextAt returns the text content of the element at viewport (x, y).
func (p *Page) TextAt(ctx context.Context, x, y float64) (string, error) {
	res, err := p.eval(ctx, fmt.Sprintf(textAtJS, x, y))
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// Selection returns the current selection text and bounding client rect.
func (p *Page) Selection(ctx context.Context) (string, *annotation.RectPayload, error) {
	res, err := p.eval(ctx, selectionJS)
	if err != nil {
		return "", nil, err
	}
	text, rect := parseSelection(res)
	return text, rect, nil
}

func parseRect(r gjson.Result) annotation.RectPayload {
	return annotation.RectPayload{
		X:      r.Get("x").Float(),
		Y:      r.Get("y").Float(),
		Width:  r.Get("width").Float(),
		Height: r.Get("height").Float(),
	}
}

func parseTextNodes(res gjson.Result) []overlay.TextNode {
	var nodes []overlay.TextNode
	res.ForEach(func(_, n gjson.Result) bool {
		node := overlay.TextNode{Text: n.Get("text").String()}
		n.Get("rects").ForEach(func(_, r gjson.Result) bool {
			node.Rects = append(node.Rects, parseRect(r))
			return true
		})
		nodes = append(nodes, node)
		return true
	})
	return nodes
}

func parseSelection(res gjson.Result) (string, *annotation.RectPayload) {
	text := res.Get("text").String()
	r := res.Get("rect")
	if !r.IsObject() {
		return text, nil
	}
	rect := parseRect(r)
	return text, &rect
}

func parseViewport(res gjson.Result) Viewport {
	return Viewport{
		URL:     res.Get("url").String(),
		Title:   res.Get("title").String(),
		Width:   int(res.Get("width").Int()),
		Height:  int(res.Get("height").Int()),
		ScrollX: res.Get("scrollX").Float(),
		ScrollY: res.Get("scrollY").Float(),
	}
}

const viewportJS = `({
  url: location.href,
  title: document.title,
  width: window.innerWidth,
  height: window.innerHeight,
  scrollX: window.scrollX,
  scrollY: window.scrollY
})`

const textNodesJS = `(() => {
  const out = [];
  if (!document.body) return out;
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
  while (walker.nextNode()) {
    const node = walker.currentNode;
    if (!node.textContent || !node.textContent.trim()) continue;
    const range = document.createRange();
    range.selectNodeContents(node);
    const rects = Array.from(range.getClientRects()).map((r) => ({
      x: r.left, y: r.top, width: r.width, height: r.height
    }));
    range.detach();
    out.push({ text: node.textContent, rects });
  }
  return out;
})()`

const textAtJS = `(() => {
  const el = document.elementFromPoint(%g, %g);
  return el ? (el.textContent || "") : "";
})()`

const selectionJS = `(() => {
  const sel = window.getSelection();
  if (!sel || sel.rangeCount === 0) return { text: "", rect: null };
  const r = sel.getRangeAt(0).getBoundingClientRect();
  return {
    text: sel.toString(),
    rect: r ? { x: r.x, y: r.y, width: r.width, height: r.height } : null
  };
})()`

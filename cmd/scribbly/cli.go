package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/scribbly/internal/annotation"
	"github.com/hpungsan/scribbly/internal/cdpdoc"
	"github.com/hpungsan/scribbly/internal/errors"
	"github.com/hpungsan/scribbly/internal/export"
	"github.com/hpungsan/scribbly/internal/mcp"
	"github.com/hpungsan/scribbly/internal/overlay"
	"github.com/hpungsan/scribbly/internal/web"
)

// newCLIApp creates the CLI application with all commands. rt may be nil
// when only help or version output is needed.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "scribbly",
		Usage:   "Annotate pages and summarize what you mark",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(rt),
			mcpCmd(rt),
			summarizeCmd(rt),
			listCmd(rt),
			showCmd(rt),
			exportCmd(rt),
			drawingsCmd(rt),
			availabilityCmd(rt),
			settingsCmd(rt),
			captureCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the coordinator HTTP surface for the extension and side panel",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Interface to bind (overrides config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			if bind := c.String("bind"); bind != "" {
				rt.cfg.HTTPBind = bind
			}
			if port := c.Int("port"); port > 0 {
				rt.cfg.HTTPPort = port
			}

			srv, err := web.NewServer(rt.coord, rt.cfg, rt.log, Version)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(c.Context, srv, rt.log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the summary and drawing tools over MCP stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(c.Context, rt.coord, rt.cfg, Version)
		},
	}
}

// summarizeCmd creates the summarize command.
func summarizeCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "summarize",
		Usage: "Summarize text (from --text or stdin) and store the result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Text to summarize (defaults to stdin)"},
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Page the text came from"},
			&cli.StringFlag{Name: "title", Usage: "Page title"},
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Value: string(annotation.SourceSelection), Usage: "Source: selection|rectangle|page"},
		},
		Action: func(c *cli.Context) error {
			text := c.String("text")
			if text == "" {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("text must be given with --text or piped via stdin"))
				}
				var err error
				if text, err = readStdin(); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}

			rec, err := rt.coord.RequestSummary(c.Context, annotation.SummaryRequestPayload{
				RequestID: uuid.NewString(),
				Text:      text,
				URL:       c.String("url"),
				Title:     c.String("title"),
				Source:    annotation.Source(c.String("source")),
			})
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(rec); err != nil {
				return err
			}
			if rec.Status != annotation.StatusCompleted {
				return outputError(errors.NewSummaryFailed(rec.ID, string(rec.Status), rec.Error))
			}
			return nil
		},
	}
}

// listCmd creates the list command.
func listCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recent summaries, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Only summaries of this page"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum records (default from config)"},
		},
		Action: func(c *cli.Context) error {
			var (
				summaries []annotation.SummaryRecord
				err       error
			)
			if url := c.String("url"); url != "" {
				summaries, err = rt.coord.SummariesForURL(c.Context, url, c.Int("limit"))
			} else {
				summaries, err = rt.coord.ListSummaries(c.Context, c.Int("limit"))
			}
			if err != nil {
				return outputError(err)
			}
			if summaries == nil {
				summaries = []annotation.SummaryRecord{}
			}
			return outputJSON(map[string]any{"summaries": summaries, "count": len(summaries)})
		},
	}
}

// showCmd creates the show command.
func showCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one summary by id",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("summary id is required"))
			}
			rec, err := rt.coord.Summary(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(rec)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Join completed summaries into one bullet list",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Only summaries of this page"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum records (default from config)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the text to this file or directory"},
		},
		Action: func(c *cli.Context) error {
			combined, err := rt.coord.CombinedSummary(c.Context, c.String("url"), c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			if !c.IsSet("out") {
				return outputJSON(combined)
			}

			path, err := export.ResolvePath(c.String("out"), combined)
			if err != nil {
				return outputError(err)
			}
			result, err := export.WriteFile(c.Context, path, combined)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

// drawingsCmd creates the drawings command.
func drawingsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "drawings",
		Usage: "List the drawings saved for a page",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Page URL", Required: true},
			&cli.BoolFlag{Name: "no-image", Usage: "Omit the PNG data URL from output"},
		},
		Action: func(c *cli.Context) error {
			drawings, err := rt.coord.Drawings(c.Context, c.String("url"))
			if err != nil {
				return outputError(err)
			}
			if drawings == nil {
				drawings = []annotation.DrawingRecord{}
			}
			if c.Bool("no-image") {
				for i := range drawings {
					drawings[i].ImageDataURL = ""
				}
			}
			return outputJSON(map[string]any{"url": c.String("url"), "drawings": drawings})
		},
	}
}

// availabilityCmd creates the availability command.
func availabilityCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "availability",
		Usage: "Show the download state of each capability",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "refresh", Aliases: []string{"r"}, Usage: "Query backends instead of using the cached snapshot"},
		},
		Action: func(c *cli.Context) error {
			snap := rt.coord.Cache().Snapshot()
			if c.Bool("refresh") {
				var err error
				if snap, err = rt.coord.Cache().Refresh(c.Context); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(snap)
		},
	}
}

// settingsCmd creates the settings command. Without flags it prints the
// current settings; with flags it applies them as a partial update.
func settingsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or update settings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Summarization mode: on-device|cloud"},
			&cli.BoolFlag{Name: "auto-open", Usage: "Open the side panel on summary requests"},
			&cli.BoolFlag{Name: "enable-writer", Usage: "Expose the writer capability"},
			&cli.StringFlag{Name: "api-key", Usage: "Cloud API key (empty string clears it)"},
		},
		Action: func(c *cli.Context) error {
			var patch annotation.SettingsPatch
			if c.IsSet("mode") {
				mode := annotation.Mode(c.String("mode"))
				patch.Mode = &mode
			}
			if c.IsSet("auto-open") {
				v := c.Bool("auto-open")
				patch.AutoOpenSidePanel = &v
			}
			if c.IsSet("enable-writer") {
				v := c.Bool("enable-writer")
				patch.EnableWriter = &v
			}
			if c.IsSet("api-key") {
				v := c.String("api-key")
				patch.CloudAPIKey = &v
			}

			settings := rt.coord.Cache().Settings()
			if patch != (annotation.SettingsPatch{}) {
				var err error
				if settings, err = rt.coord.UpdateSettings(c.Context, patch); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(redactSettings(settings))
		},
	}
}

// captureOutput is printed by the capture command.
type captureOutput struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	DrawingID string `json:"drawingId"`
	Strokes   int    `json:"strokes"`
	RequestID string `json:"requestId,omitempty"`
	Panel     string `json:"panel"`
	Image     string `json:"image,omitempty"`
}

// captureCmd creates the capture command: attach to a Chrome tab, draw one
// annotation over it and summarize the text underneath.
func captureCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Draw an annotation on a live Chrome tab and summarize the text under it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "devtools", Value: "http://127.0.0.1:9222", Usage: "Chrome remote debugging endpoint"},
			&cli.StringFlag{Name: "match", Usage: "Substring of the tab URL to attach to (default: first page)"},
			&cli.StringFlag{Name: "rect", Usage: "Viewport rectangle x,y,width,height", Required: true},
			&cli.StringFlag{Name: "tool", Value: string(annotation.ToolRectangle), Usage: "Tool: rectangle|highlighter|pen"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the annotation layer to this PNG file"},
			&cli.DurationFlag{Name: "timeout", Value: 90 * time.Second, Usage: "How long to wait for the summary"},
		},
		Action: func(c *cli.Context) error {
			rect, err := parseRect(c.String("rect"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			tool := annotation.Tool(c.String("tool"))
			if !tool.Valid() || tool == annotation.ToolEraser {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("tool %q cannot capture", tool)))
			}

			out, err := capture(c.Context, rt, captureRequest{
				DevtoolsURL: c.String("devtools"),
				Match:       c.String("match"),
				Rect:        rect,
				Tool:        tool,
				OutPath:     c.String("out"),
				Timeout:     c.Duration("timeout"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

type captureRequest struct {
	DevtoolsURL string
	Match       string
	Rect        annotation.RectPayload
	Tool        annotation.Tool
	OutPath     string
	Timeout     time.Duration
}

func capture(ctx context.Context, rt *runtime, req captureRequest) (*captureOutput, error) {
	page, err := cdpdoc.Attach(ctx, req.DevtoolsURL, req.Match)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	vp, err := page.Viewport(ctx)
	if err != nil {
		return nil, err
	}
	surface, err := overlay.NewRasterSurface(vp.Width, vp.Height)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	sub := rt.coord.Hub().Subscribe(0, 0)
	defer sub.Close()

	ov, err := overlay.New(overlay.Config{
		URL:        vp.URL,
		Title:      vp.Title,
		Width:      vp.Width,
		Height:     vp.Height,
		Surface:    surface,
		Document:   page,
		Dispatcher: overlay.LocalDispatcher{C: rt.coord},
		Logger:     rt.log,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = ov.Run(runCtx, sub.C) }()

	if err := ov.Restore(ctx); err != nil {
		return nil, err
	}
	ov.Toggle(true)
	ov.Scroll(vp.ScrollX, vp.ScrollY)
	if err := ov.SetTool(req.Tool); err != nil {
		return nil, err
	}
	ov.PointerDown(req.Rect.X, req.Rect.Y)
	ov.PointerMove(req.Rect.Right(), req.Rect.Bottom())
	if err := ov.PointerUp(ctx); err != nil {
		return nil, err
	}

	out := &captureOutput{
		URL:       vp.URL,
		Title:     vp.Title,
		RequestID: ov.LastRequestID(),
	}
	if out.RequestID != "" {
		waitForPanel(ctx, ov, req.Timeout)
	}
	out.Panel = ov.Panel().Text
	out.DrawingID = ov.DrawingID()
	out.Strokes = len(ov.Strokes())

	if req.OutPath != "" {
		f, err := os.Create(req.OutPath)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := surface.WritePNG(f); err != nil {
			f.Close()
			return nil, errors.NewInternal(err)
		}
		if err := f.Close(); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Image = req.OutPath
	}
	return out, nil
}

// waitForPanel polls until the panel leaves the pending state or timeout
// elapses.
func waitForPanel(ctx context.Context, ov *overlay.Overlay, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if ov.Panel().Text != overlay.PanelPending {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// Helper functions

// settingsView is the CLI rendering of settings; the key itself is never printed.
type settingsView struct {
	Mode              annotation.Mode `json:"mode"`
	AutoOpenSidePanel bool            `json:"autoOpenSidePanel"`
	EnableWriter      bool            `json:"enableWriter"`
	HasCloudAPIKey    bool            `json:"hasCloudApiKey"`
}

func redactSettings(s annotation.Settings) settingsView {
	return settingsView{
		Mode:              s.Mode,
		AutoOpenSidePanel: s.AutoOpenSidePanel,
		EnableWriter:      s.EnableWriter,
		HasCloudAPIKey:    s.CloudAPIKey != "",
	}
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.ScribblyError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseRect parses "x,y,width,height" in viewport pixels.
func parseRect(s string) (annotation.RectPayload, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return annotation.RectPayload{}, fmt.Errorf("rect must be x,y,width,height: %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return annotation.RectPayload{}, fmt.Errorf("rect component %d: %w", i, err)
		}
		v[i] = f
	}
	if v[2] <= 0 || v[3] <= 0 {
		return annotation.RectPayload{}, fmt.Errorf("rect width and height must be positive")
	}
	return annotation.RectPayload{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

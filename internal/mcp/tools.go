package mcp

import "github.com/mark3labs/mcp-go/mcp"

var summaryRequestToolDef = mcp.NewTool("summary_request",
	mcp.WithDescription("Summarize text into key bullet points using the configured mode (on-device model or cloud). Waits for the result and stores it in the summary history."),
	mcp.WithString("text", mcp.Required(), mcp.Description("Text to summarize")),
	mcp.WithString("url", mcp.Description("Page the text came from")),
	mcp.WithString("title", mcp.Description("Title of the page")),
	mcp.WithString("source", mcp.Description("Where the text came from"), mcp.Enum("selection", "rectangle", "page")),
	mcp.WithString("request_id", mcp.Description("Correlation id; generated when omitted")),
)

var summaryListToolDef = mcp.NewTool("summary_list",
	mcp.WithDescription("List recent summaries, newest first. Optionally restricted to one page URL."),
	mcp.WithString("url", mcp.Description("Only summaries of this page")),
	mcp.WithNumber("limit", mcp.Description("Maximum records to return")),
)

var summaryExportToolDef = mcp.NewTool("summary_export",
	mcp.WithDescription("Join every completed summary into one bullet list (the side panel's Combined Highlights). Pending and failed summaries are skipped."),
	mcp.WithString("url", mcp.Description("Only summaries of this page")),
	mcp.WithNumber("limit", mcp.Description("Maximum records to consider")),
)

var summaryGetToolDef = mcp.NewTool("summary_get",
	mcp.WithDescription("Fetch one summary record by id."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Summary id")),
)

var drawingSaveToolDef = mcp.NewTool("drawing_save",
	mcp.WithDescription("Save the annotation strokes drawn on a page. Rectangle strokes must carry 5 points."),
	mcp.WithString("url", mcp.Required(), mcp.Description("Page URL the drawing belongs to")),
	mcp.WithString("id", mcp.Description("Existing drawing id to overwrite")),
	mcp.WithArray("strokes", mcp.Required(),
		mcp.Description("Strokes in page coordinates"),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":      map[string]any{"type": "string"},
				"tool":    map[string]any{"type": "string", "enum": []string{"pen", "highlighter", "eraser", "rectangle"}},
				"color":   map[string]any{"type": "string"},
				"width":   map[string]any{"type": "number"},
				"opacity": map[string]any{"type": "number"},
				"points": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"x": map[string]any{"type": "number"},
							"y": map[string]any{"type": "number"},
						},
					},
				},
			},
		}),
	),
)

var drawingFetchToolDef = mcp.NewTool("drawing_fetch",
	mcp.WithDescription("Fetch the saved drawings of a page, most recently updated first."),
	mcp.WithString("url", mcp.Required(), mcp.Description("Page URL")),
)

var availabilityToolDef = mcp.NewTool("capability_availability",
	mcp.WithDescription("Report the download state of the summarizer, prompt, writer and rewriter capabilities."),
	mcp.WithBoolean("refresh", mcp.Description("Query every backend instead of returning the cached snapshot")),
)

var settingsGetToolDef = mcp.NewTool("settings_get",
	mcp.WithDescription("Return the current user settings. The cloud API key is never returned."),
)

var settingsUpdateToolDef = mcp.NewTool("settings_update",
	mcp.WithDescription("Apply a partial settings update. Changing mode or enable_writer resets model sessions and re-checks availability."),
	mcp.WithString("mode", mcp.Description("Summarization mode"), mcp.Enum("on-device", "cloud")),
	mcp.WithBoolean("auto_open_side_panel", mcp.Description("Open the side panel when a summary is requested")),
	mcp.WithBoolean("enable_writer", mcp.Description("Expose the writer capability")),
	mcp.WithString("cloud_api_key", mcp.Description("API key used in cloud mode")),
)

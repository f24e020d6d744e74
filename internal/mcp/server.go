package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/scribbly/internal/config"
	"github.com/hpungsan/scribbly/internal/coordinator"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"summary_request": {
		def:     summaryRequestToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSummaryRequest },
	},
	"summary_list": {
		def:     summaryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSummaryList },
	},
	"summary_export": {
		def:     summaryExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSummaryExport },
	},
	"summary_get": {
		def:     summaryGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSummaryGet },
	},
	"drawing_save": {
		def:     drawingSaveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDrawingSave },
	},
	"drawing_fetch": {
		def:     drawingFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDrawingFetch },
	},
	"capability_availability": {
		def:     availabilityToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAvailability },
	},
	"settings_get": {
		def:     settingsGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsGet },
	},
	"settings_update": {
		def:     settingsUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsUpdate },
	},
}

// AllToolNames returns every valid tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Scribbly tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(coord *coordinator.Coordinator, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"scribbly",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(coord, cfg)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves MCP over stdio until ctx is done or stdin closes.
func Run(ctx context.Context, coord *coordinator.Coordinator, cfg *config.Config, version string) error {
	s := NewServer(coord, cfg, version)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hpungsan/scribbly/internal/capability"
	"github.com/hpungsan/scribbly/internal/cloud"
	"github.com/hpungsan/scribbly/internal/config"
	"github.com/hpungsan/scribbly/internal/coordinator"
	"github.com/hpungsan/scribbly/internal/db"
	"github.com/hpungsan/scribbly/internal/logger"
	"github.com/hpungsan/scribbly/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "mcp": true, "summarize": true, "list": true, "show": true, "export": true,
	"drawings": true, "availability": true, "settings": true, "capture": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___  ___ _ __(_) |__ | |__ | |_   _
  / __|/ __| '__| | '_ \| '_ \| | | | |
  \__ \ (__| |  | | |_) | |_) | | |_| |
  |___/\___|_|  |_|_.__/|_.__/|_|\__, |
                                 |___/
  Annotate pages, summarize what you mark

  Usage: scribbly <command> [options]
         scribbly --help

  MCP server mode requires piped input.`)
}

// runtime is the process-scoped state shared by every command.
type runtime struct {
	cfg   *config.Config
	log   logger.Logger
	db    *sql.DB
	coord *coordinator.Coordinator
}

// openRuntime loads configuration, opens the database, detects the model
// host and starts the coordinator.
func openRuntime(ctx context.Context, baseDir string) (*runtime, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	var host *capability.LocalHost
	if cfg.ModelHost != "" {
		host = capability.NewLocalHost(cfg.ModelHost, cfg.ModelName)
	}
	provider := capability.Detect(ctx, host, log)

	coord := coordinator.New(coordinator.Options{
		Store:        db.NewStore(database),
		Capabilities: capability.NewSet(provider, log),
		Cloud:        cloud.NewClient(cfg.CloudEndpoint, cfg.CloudModel),
		Logger:       log,
		Streaming:    cfg.StreamSummaries,
		ListLimit:    cfg.SummaryListLimit,
	})
	if err := coord.Start(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to start coordinator: %w", err)
	}

	return &runtime{cfg: cfg, log: log, db: database, coord: coord}, nil
}

// Close waits for in-flight summaries and closes the database.
func (rt *runtime) Close() {
	if err := rt.coord.Close(context.Background()); err != nil {
		rt.log.Warn("coordinator close", "error", err)
	}
	if err := rt.db.Close(); err != nil {
		rt.log.Warn("database close", "error", err)
	}
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'scribbly --help' for usage.\n")
		os.Exit(1)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".scribbly")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(rt.cfg.DisabledTools); len(unknown) > 0 {
		rt.log.Warn("unknown tools in disabled_tools", "tools", unknown)
	}

	if isCLIMode() {
		err = newCLIApp(rt).RunContext(ctx, os.Args)
	} else {
		// MCP server mode (default)
		err = mcp.Run(ctx, rt.coord, rt.cfg, Version)
	}
	rt.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

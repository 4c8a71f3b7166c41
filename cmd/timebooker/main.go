package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"timebooker/internal/app"
	"timebooker/internal/config"
	"timebooker/internal/engine"
	"timebooker/internal/mangle"
	mcpserver "timebooker/internal/mcp"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit config file (overrides workspace config)")
	workspaceDir := flag.String("workspace-dir", "", "Use this directory as workspace root instead of walking up from cwd")
	noWorkspace := flag.Bool("no-workspace", false, "Disable .timebooker/ workspace discovery")
	initWS := flag.Bool("init", false, "Create a .timebooker/ workspace in the current directory and exit")
	debug := flag.Bool("debug", false, "Headful browser with slow motion; never saves")
	dryRun := flag.Bool("dry-run", false, "Run every step except saving the form")
	kommen := flag.String("kommen", "", "Start time override (HH:MM)")
	gehen := flag.String("gehen", "", "End time override (HH:MM)")
	mode := flag.String("mode", "", "Fallback category for weekdays the schedule does not name (Remote or Office)")
	serveMCP := flag.Bool("mcp", false, "Serve the booking tools over MCP stdio instead of running once")
	ssePort := flag.Int("sse-port", 0, "Serve the booking tools over MCP SSE on this port")
	flag.Parse()

	if *initWS {
		root := *workspaceDir
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				log.Fatalf("failed to get working directory: %v", err)
			}
			root = cwd
		}
		if err := config.InitWorkspace(root); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		fmt.Printf("Initialized timebooker workspace at %s/%s/\n", root, config.WorkspaceDirName)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load(".env")

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if wsDir != "" {
		_ = godotenv.Load(filepath.Join(wsDir, config.WorkspaceDirName, ".env"))
	}
	cfg.ApplyEnv(os.LookupEnv)
	if *kommen != "" {
		cfg.Booking.Start = *kommen
	}
	if *gehen != "" {
		cfg.Booking.End = *gehen
	}
	if *mode != "" {
		cfg.Booking.DefaultMode = *mode
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	serving := *serveMCP || cfg.MCP.SSEPort > 0

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if serving && cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}
	if wsDir != "" {
		log.Printf("using workspace %s", wsDir)
	}

	mangleEngine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		log.Fatalf("failed to initialize mangle engine: %v", err)
	}
	var ledger *mangle.Ledger
	if cfg.Mangle.Enable {
		ledger = mangle.NewLedger(mangleEngine)
	}

	runner, err := app.NewRunner(cfg, app.Options{Debug: *debug, DryRun: *dryRun}, ledger, nil)
	if err != nil {
		log.Fatalf("failed to initialize runner: %v", err)
	}

	if serving {
		os.Exit(serve(ctx, cfg, runner, mangleEngine))
	}

	report, err := runner.Run(ctx, app.RunOptions{})
	if err != nil {
		log.Fatalf("booking run failed: %v", err)
	}
	printReport(os.Stdout, report)

	if ledger != nil {
		if items, err := ledger.NeedsAttention(context.Background()); err == nil && len(items) > 0 {
			fmt.Printf("needs attention: %s\n", strings.Join(items, ", "))
		}
	}
	if len(report.Failed()) > 0 || ctx.Err() != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config, runner *app.Runner, mangleEngine *mangle.Engine) int {
	server, err := mcpserver.NewServer(cfg, runner, mangleEngine)
	if err != nil {
		log.Printf("failed to initialize MCP server: %v", err)
		return 1
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting timebooker MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting timebooker MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Printf("server exited with error: %v", startErr)
		return 1
	}
	return 0
}

func printReport(w io.Writer, report engine.Report) {
	for _, res := range report.Results {
		switch res.Status {
		case engine.StatusFailed:
			fmt.Fprintf(w, "%s  %-7s  %-7s  %s: %s\n", res.ItemID, res.Category, res.Status, res.Stage, res.Error)
		default:
			fmt.Fprintf(w, "%s  %-7s  %-7s  %d attempt(s)\n", res.ItemID, res.Category, res.Status, res.Attempts)
		}
	}
	fmt.Fprintf(w, "%d booked, %d failed\n", len(report.Succeeded()), len(report.Failed()))
}

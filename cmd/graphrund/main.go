// ABOUTME: CLI/daemon entrypoint: wires storage, executors, providers, tools, and the HTTP server.
// ABOUTME: Grounded on cmd/mammoth/main.go's flag parsing and signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389-research/graphrun/api"
	"github.com/2389-research/graphrun/bus"
	"github.com/2389-research/graphrun/exec"
	"github.com/2389-research/graphrun/providers"
	"github.com/2389-research/graphrun/runner"
	"github.com/2389-research/graphrun/runtime"
	"github.com/2389-research/graphrun/store"
	"github.com/2389-research/graphrun/tools"
)

var version = "dev"

type config struct {
	port        int
	dataDir     string
	fsRoot      string
	showVersion bool
}

func main() {
	loadDotEnvAuto()

	cfg := parseFlags()
	if cfg.showVersion {
		fmt.Printf("graphrund %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() config {
	var cfg config
	fs := flag.NewFlagSet("graphrund", flag.ContinueOnError)
	fs.IntVar(&cfg.port, "port", 8420, "HTTP server port")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Run storage directory (default: $XDG_DATA_HOME/graphrund)")
	fs.StringVar(&cfg.fsRoot, "fs-root", ".", "Sandbox root for built-in filesystem tools")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])
	return cfg
}

func run(cfg config) int {
	dataDir := cfg.dataDir
	if dataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		dataDir = dir
	}

	sm, err := store.NewStorageManager(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	llmInvoker := providers.New(
		providers.WithAnthropicKey(os.Getenv("ANTHROPIC_API_KEY")),
		providers.WithOpenAIKey(os.Getenv("OPENAI_API_KEY")),
		providers.WithGeminiKey(os.Getenv("GEMINI_API_KEY")),
	)
	toolInvoker := tools.NewBuiltinInvoker(cfg.fsRoot)

	registry := exec.DefaultRegistry(llmInvoker, toolInvoker)
	eventBus := bus.New()
	graphRuntime := runtime.New(&runner.GraphNodeRunner{Registry: registry}, sm, eventBus)

	server := api.NewServer(graphRuntime, eventBus)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupted, shutting down...")
		cancel()
	}()

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	fmt.Fprintf(os.Stderr, "graphrund listening on %s (data dir: %s)\n", addr, dataDir)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

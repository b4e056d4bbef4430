// Voicegate — an always-on voice gateway for home automation.
//
// Usage:
//
//	voicegate [-verbose] [-quiet] [-log-file PATH]
//
// Configuration comes from a .env file and environment variables; see
// internal/config for the full key list.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hammamikhairi/voicegate/internal/boot"
	"github.com/hammamikhairi/voicegate/internal/config"
	"github.com/hammamikhairi/voicegate/internal/logger"
)

func main() {
	_ = godotenv.Load()

	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	logFile := flag.String("log-file", "stderr", "file to write logs to (use \"stderr\" for console)")
	micDevice := flag.String("mic", "", "capture device name (overrides AUDIO_MIC_DEVICE)")
	provider := flag.String("ai-provider", "", "language-model backend: anthropic or ollama")
	mcpCommand := flag.String("mcp", "", "MCP tool server command, e.g. \"node tools/server.js\"")
	flag.Parse()

	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}

	var logOut io.Writer = os.Stderr
	if *logFile != "" && *logFile != "stderr" {
		dir := filepath.Dir(*logFile)
		if dir != "" && dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", *logFile, err)
		} else {
			logOut = f
			defer f.Close()
		}
	}

	// Third-party libraries using the default log package share our
	// output.
	stdlog.SetOutput(logOut)
	stdlog.SetFlags(stdlog.Ltime)

	log := logger.New(logLevel, logOut)

	cfg := config.Default()
	cfg.ApplyEnv()
	cfg.Verbose = *verbose
	if *micDevice != "" {
		cfg.Audio.MicDevice = *micDevice
	}
	if *provider != "" {
		cfg.AI.Provider = *provider
	}
	if *mcpCommand != "" {
		parts := strings.Fields(*mcpCommand)
		cfg.MCP.Command = parts[0]
		cfg.MCP.Args = parts[1:]
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := boot.Run(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed: %v", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	gw.Close()
}

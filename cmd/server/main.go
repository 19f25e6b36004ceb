package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ncn914491/privacy-ai-assistant/internal/chat"
	"github.com/Ncn914491/privacy-ai-assistant/internal/config"
	"github.com/Ncn914491/privacy-ai-assistant/internal/llm"
	"github.com/Ncn914491/privacy-ai-assistant/internal/metrics"
	"github.com/Ncn914491/privacy-ai-assistant/internal/server"
	"github.com/Ncn914491/privacy-ai-assistant/internal/stt"
	"github.com/Ncn914491/privacy-ai-assistant/internal/tokens"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "privacy-ai-assistant"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.Int("port", cfg.Server.Port),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("decoder_endpoint", cfg.Decoder.Endpoint),
		slog.String("llm_base_url", cfg.LLM.BaseURL),
		slog.String("default_model", cfg.LLM.DefaultModel),
		slog.String("chat_directory", cfg.Chat.Directory),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize speech decoder engine
	engine, err := stt.NewHTTPEngine(stt.HTTPConfig{
		Endpoint:      cfg.Decoder.Endpoint,
		APIKey:        cfg.Decoder.APIKey,
		Timeout:       cfg.Decoder.GetTimeoutDuration(),
		MaxRetries:    cfg.Decoder.MaxRetries,
		MaxConcurrent: cfg.Decoder.MaxConcurrent,
		SampleRate:    cfg.Audio.SampleRate,
	}, logger)
	if err != nil {
		logger.Error("Failed to create decoder engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize session registry
	registry := stt.NewRegistry(engine, stt.Config{
		FrameBufferCapacity: cfg.Audio.FrameBufferCapacity,
		EventBufferSize:     cfg.Session.EventBufferSize,
		ErrorCeiling:        cfg.Session.ErrorCeiling,
		HeartbeatInterval:   cfg.Session.GetHeartbeatIntervalDuration(),
		InactivityTimeout:   cfg.Session.GetInactivityTimeoutDuration(),
		InactivityPolicy:    cfg.Session.InactivityPolicy,
		StopGraceTimeout:    cfg.Session.GetStopGraceTimeoutDuration(),
		SampleRate:          cfg.Audio.SampleRate,
		DebugAudioDir:       cfg.Audio.DebugAudioDir,
		DebugCaptureSeconds: cfg.Audio.DebugCaptureSeconds,
	}, appMetrics, logger)
	logger.Info("Session registry initialized",
		slog.Duration("inactivity_timeout", cfg.Session.GetInactivityTimeoutDuration()),
		slog.String("decoder_endpoint", cfg.Decoder.Endpoint),
	)

	// Initialize context window builder and chat store
	estimator := tokens.NewEstimator(nil)
	builder := tokens.NewBuilder(estimator, cfg.Context.ReserveTokens, logger)

	chatStore, err := chat.NewStore(cfg.Chat.Directory, estimator, builder, logger)
	if err != nil {
		logger.Error("Failed to create chat store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Chat store initialized", slog.String("directory", cfg.Chat.Directory))

	// Initialize LLM runtime client
	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:       cfg.LLM.BaseURL,
		DefaultModel:  cfg.LLM.DefaultModel,
		Timeout:       cfg.LLM.GetTimeoutDuration(),
		MaxRetries:    cfg.LLM.MaxRetries,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
	}, logger)
	if err != nil {
		logger.Error("Failed to create LLM client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("LLM client initialized", slog.String("base_url", cfg.LLM.BaseURL))

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, registry, engine, chatStore, llmClient, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new connections)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the session registry (terminates sessions and the decoder engine)
	registry.Stop()

	// Stop the LLM client (waits for in-flight generations)
	if err := llmClient.Close(); err != nil {
		logger.Error("Error closing LLM client", slog.String("error", err.Error()))
	}

	// Get final statistics
	decoderStats := engine.Stats()
	llmStats := llmClient.Stats()
	logger.Info("Final service statistics",
		slog.Uint64("decoder_requests", decoderStats.TotalRequests),
		slog.Uint64("decoder_failures", decoderStats.FailedRequests),
		slog.Float64("decoder_success_rate", decoderStats.SuccessRate),
		slog.Uint64("llm_requests", llmStats.TotalRequests),
		slog.Float64("llm_success_rate", llmStats.SuccessRate),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

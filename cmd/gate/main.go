// Package main provides the entry point for the strategy gate: it evaluates a
// candidate strategy through data quality screening, backtesting, walk-forward
// validation, crisis scenario gating, and risk checks, then optionally
// executes the approved orders through a broker with failover.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantpipe/strategy-gate/internal/backtester"
	"github.com/quantpipe/strategy-gate/internal/broker"
	"github.com/quantpipe/strategy-gate/internal/config"
	"github.com/quantpipe/strategy-gate/internal/data"
	"github.com/quantpipe/strategy-gate/internal/orders"
	"github.com/quantpipe/strategy-gate/internal/pipeline"
	"github.com/quantpipe/strategy-gate/internal/risk"
	"github.com/quantpipe/strategy-gate/internal/scenario"
	"github.com/quantpipe/strategy-gate/internal/telemetry"
	"github.com/quantpipe/strategy-gate/internal/validation"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// request is the evaluation input read from the request file.
type request struct {
	Strategy  types.StrategySpec     `json:"strategy"`
	Bars      map[string][]types.Bar `json:"bars"`
	Portfolio *types.PortfolioState  `json:"portfolio,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "Config file path (default ./config.yaml if present)")
	requestPath := flag.String("request", "", "Evaluation request JSON file (strategy, bars, optional portfolio)")
	execute := flag.Bool("execute", false, "Submit risk-approved orders to the broker")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	if *requestPath == "" {
		fmt.Fprintln(os.Stderr, "usage: gate -request <file.json> [-config <file.yaml>] [-execute]")
		os.Exit(2)
	}

	req, err := readRequest(*requestPath)
	if err != nil {
		logger.Fatal("Failed to read request", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.New()
	metricsServer := startMetricsServer(logger, cfg.MetricsAddr, metrics)

	orchestrator := buildOrchestrator(logger, cfg, metrics)

	portfolio := types.PortfolioState{Cash: cfg.Backtest.InitialCash}
	if req.Portfolio != nil {
		portfolio = *req.Portfolio
	}

	logger.Info("Evaluating strategy",
		zap.String("strategy_id", req.Strategy.StrategyID),
		zap.Strings("universe", req.Strategy.Universe),
		zap.Bool("execute", *execute))

	result, err := orchestrator.EvaluateAndExecute(ctx, req.Strategy, req.Bars, portfolio, *execute)
	if err != nil && result == nil {
		logger.Fatal("Evaluation failed", zap.Error(err))
	}
	if err != nil {
		logger.Error("Evaluation finished with a stage error", zap.Error(err))
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if encodeErr := encoder.Encode(result); encodeErr != nil {
		logger.Fatal("Failed to encode result", zap.Error(encodeErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	switch result.Status {
	case types.CandidateStatusExecuted, types.CandidateStatusEvaluated:
		os.Exit(0)
	case types.CandidateStatusError:
		os.Exit(1)
	default:
		// Rejections exit non-zero so callers can gate on the outcome.
		os.Exit(3)
	}
}

func readRequest(path string) (*request, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse request file: %w", err)
	}
	if req.Strategy.StrategyID == "" {
		return nil, errors.New("request is missing strategy.strategyId")
	}
	if len(req.Bars) == 0 {
		return nil, errors.New("request contains no bars")
	}
	return &req, nil
}

func buildOrchestrator(logger *zap.Logger, cfg *config.Config, metrics *telemetry.Metrics) *pipeline.Orchestrator {
	engine := backtester.NewEngine(logger, cfg.Backtest)

	brokers := broker.NewManager(logger, cfg.Broker)
	brokers.Register("paper", func() (broker.Broker, error) {
		return broker.NewPaperBroker(logger, cfg.Backtest.InitialCash), nil
	})
	brokers.Register("alpaca", func() (broker.Broker, error) {
		return broker.NewAlpacaBroker(logger, broker.AlpacaConfig{
			APIKey:       cfg.Alpaca.APIKey,
			SecretKey:    cfg.Alpaca.APISecret,
			BaseURL:      cfg.Alpaca.BaseURL,
			FillTimeout:  cfg.Broker.FillTimeout,
			PollInterval: cfg.Broker.PollInterval,
		}), nil
	})

	return pipeline.NewOrchestrator(logger, pipeline.Config{
		ExecutionEnabled: cfg.ExecutionEnabled,
		VerifyFills:      cfg.Broker.VerifyFills,
	}, pipeline.Deps{
		Quality:   data.NewChecker(logger, cfg.Quality),
		Engine:    engine,
		Validator: validation.NewValidator(logger, engine, cfg.Validation),
		Gating:    scenario.NewGatingEngine(logger, engine),
		Risk:      risk.NewEngine(logger, cfg.Risk),
		Orders:    orders.NewGenerator(logger, cfg.Orders),
		Brokers:   brokers,
		Metrics:   metrics,
	})
}

func startMetricsServer(logger *zap.Logger, addr string, metrics *telemetry.Metrics) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server error", zap.Error(err))
		}
	}()
	logger.Info("Metrics server listening", zap.String("addr", addr))
	return server
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}

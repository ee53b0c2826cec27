package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexrivas/mirrorbot/config"
	"github.com/alexrivas/mirrorbot/internal/adapters/alert"
	"github.com/alexrivas/mirrorbot/internal/adapters/explorer"
	"github.com/alexrivas/mirrorbot/internal/adapters/notify"
	"github.com/alexrivas/mirrorbot/internal/adapters/polymarket"
	"github.com/alexrivas/mirrorbot/internal/adapters/storage"
	"github.com/alexrivas/mirrorbot/internal/leadermonitor"
	"github.com/alexrivas/mirrorbot/internal/orchestrator"
	"github.com/alexrivas/mirrorbot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "render console alerts as full tables instead of one line")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	privateKey := os.Getenv("POLYMARKET_PRIVATE_KEY")
	if privateKey == "" {
		slog.Error("POLYMARKET_PRIVATE_KEY is not set")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch, store, err := build(ctx, cfg, privateKey, *table)
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("mirrorbot starting",
		"config", *configPath,
		"leaders", len(cfg.Leader.Addresses),
		"endgame_enabled", cfg.Endgame.Enabled,
		"metrics_addr", cfg.Metrics.ListenAddr,
	)

	if err := orch.Run(ctx); err != nil {
		slog.Error("orchestrator exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("mirrorbot stopped cleanly")
}

// build wires every adapter and the orchestrator's own config conversions
// together. Kept separate from main so construction errors all funnel
// through one place instead of scattering os.Exit calls across the setup.
func build(ctx context.Context, cfg *config.Config, privateKey string, table bool) (*orchestrator.Orchestrator, *storage.SQLiteStorage, error) {
	clobRPS, gammaRPS, booksRPS := cfg.RatesFor()
	exchange, err := polymarket.NewExchangeClientWithRates(
		cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.RPCURL, privateKey,
		clobRPS, gammaRPS, booksRPS,
	)
	if err != nil {
		return nil, nil, err
	}

	source, err := explorer.New(cfg.API.RPCURL, cfg.Leader.ExchangeContractAllowlist)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, nil, err
	}

	alertSink := buildAlertSink(cfg, table)

	selector, err := cfg.FillOrderSelectorBytes()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	decoder := leadermonitor.NewFixedLayoutDecoder(selector)

	gateCfg, err := cfg.ToGateConfig()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	endgameGateCfg, err := cfg.ToEndgameGateConfig()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	breakerCfg, err := cfg.ToBreakerConfig()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	executionCfg, err := cfg.ToExecutionConfig()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	endgameCfg, err := cfg.ToEndgameConfig()
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	orchCfg := orchestrator.Config{
		Gate:                gateCfg,
		EndgameGate:         endgameGateCfg,
		Breaker:             breakerCfg,
		Execution:           executionCfg,
		Leader:              cfg.ToLeaderMonitorConfig(),
		Endgame:             endgameCfg,
		ManageInterval:      executionCfg.ManageInterval,
		MaintenanceInterval: time.Duration(cfg.Orchestrator.MaintenanceIntervalSeconds) * time.Second,
		MetricsListenAddr:   cfg.Metrics.ListenAddr,
	}

	orch := orchestrator.New(ctx, orchCfg, exchange, source, store, alertSink, decoder)
	return orch, store, nil
}

// buildAlertSink wires Telegram in addition to the console when a bot
// token is present; otherwise the console is the only sink. Both
// implement ports.AlertSink, so the orchestrator never knows which one
// (or how many) it's talking to.
func buildAlertSink(cfg *config.Config, table bool) ports.AlertSink {
	console := notify.NewConsole(table)
	if cfg.Alert.BotToken == "" || cfg.Alert.ChatID == 0 {
		return console
	}
	tg, err := alert.New(cfg.Alert.BotToken, cfg.Alert.ChatID)
	if err != nil {
		slog.Warn("telegram alert sink disabled: init failed", "err", err)
		return console
	}
	return multiSink{console, tg}
}

// multiSink fans Notify out to every sink, logging (not failing) on a
// sink's error — one channel going down must never block the others.
type multiSink []ports.AlertSink

func (m multiSink) Notify(ctx context.Context, severity ports.Severity, event string, fields map[string]string) error {
	for _, sink := range m {
		if err := sink.Notify(ctx, severity, event, fields); err != nil {
			slog.Warn("alert sink failed", "event", event, "err", err)
		}
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

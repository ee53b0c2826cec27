// Package orchestrator implements C10: it wires the leader monitor (C6),
// risk gate (C7), circuit breaker (C5), and executor/position manager
// (C8) into the detect -> gate -> execute -> manage pipeline, drives the
// endgame sweeper (C9) on its own cadence, and owns shutdown and periodic
// maintenance.
//
// Grounded on the teacher's cmd/scanner/main.go (signal.NotifyContext
// shutdown, setupLogger) and internal/scanner.Scanner.Run's ticker shape,
// generalized to fan in multiple independent loops on one context.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/endgame"
	"github.com/alexrivas/mirrorbot/internal/execution"
	"github.com/alexrivas/mirrorbot/internal/leadermonitor"
	"github.com/alexrivas/mirrorbot/internal/metrics"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/ports"
	"github.com/alexrivas/mirrorbot/internal/risk"
	"github.com/alexrivas/mirrorbot/internal/validate"
)

// Config bundles every setting the orchestrator needs to construct and
// drive its subsystems. Each sub-config maps onto the corresponding
// component's own Config type.
type Config struct {
	Gate       risk.GateConfig
	EndgameGate risk.GateConfig // separate MaxPositionFraction etc. per spec §4.4
	Breaker    risk.BreakerConfig
	Execution  execution.Config
	Leader     leadermonitor.Config
	Endgame    endgame.Config

	ManageInterval      time.Duration
	MaintenanceInterval time.Duration
	MetricsListenAddr   string // empty disables the /metrics server
}

// Orchestrator owns the circuit-breaker state and the positions map
// (transitively, through Breaker and execution.Manager) and exposes them
// to the gate and executor only through method calls, per spec.md §3
// "Ownership".
type Orchestrator struct {
	cfg Config

	exchange ports.ExchangeClient
	source   ports.LeaderTxSource
	store    ports.StateStore
	alert    ports.AlertSink
	decoder  leadermonitor.Decoder

	breaker *risk.Breaker
	gate    *risk.Gate
	egGate  *risk.Gate
	monitor *leadermonitor.Monitor
	manager *execution.Manager
	sweeper *endgame.Sweeper

	rejections *rejectionLog

	metricsServer *http.Server
}

// New wires every subsystem. Construction does no I/O beyond the
// breaker's warm-start state load.
func New(
	ctx context.Context,
	cfg Config,
	exchange ports.ExchangeClient,
	source ports.LeaderTxSource,
	store ports.StateStore,
	alert ports.AlertSink,
	decoder leadermonitor.Decoder,
) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		exchange:   exchange,
		source:     source,
		store:      store,
		alert:      alert,
		decoder:    decoder,
		rejections: &rejectionLog{},
	}

	o.breaker = risk.NewBreaker(ctx, cfg.Breaker, store, alert)
	o.gate = risk.NewGate(cfg.Gate, o.breaker)
	o.egGate = risk.NewGate(cfg.EndgameGate, o.breaker)
	o.monitor = leadermonitor.New(cfg.Leader, source, store, decoder)
	o.manager = execution.NewManager(cfg.Execution, exchange, alert, o.breaker)
	o.sweeper = endgame.New(cfg.Endgame, exchange, o.manager, o.submitEndgameCandidate)

	return o
}

// Run starts every subsystem and blocks until ctx is canceled, then
// drains in-flight work before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.monitor.Start(ctx)
	o.sweeper.Start(ctx)
	o.startMetricsServer()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); o.consumeTrades(ctx) }()
	go func() { defer wg.Done(); o.manageLoop(ctx) }()
	go func() { defer wg.Done(); o.maintenanceLoop(ctx) }()

	<-ctx.Done()
	wg.Wait()

	o.sweeper.Stop()
	o.monitor.Stop()
	o.stopMetricsServer()

	slog.Info("orchestrator stopped cleanly")
	return nil
}

// consumeTrades drives the copy-trade side of the pipeline: C6 -> C7 ->
// C5 -> C8.
func (o *Orchestrator) consumeTrades(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-o.monitor.Subscribe():
			if !ok {
				return
			}
			o.handleTrade(ctx, trade)
		}
	}
}

func (o *Orchestrator) handleTrade(ctx context.Context, trade domain.Trade) {
	metrics.TradesEvaluated.WithLabelValues(string(domain.SourceCopy)).Inc()

	balance, err := o.exchange.GetBalance(ctx)
	if err != nil {
		slog.Warn("orchestrator: get balance failed", "err", err)
		return
	}
	currentPrice, err := o.exchange.GetCurrentPrice(ctx, trade.ConditionID, trade.TokenID, trade.Side)
	if err != nil {
		slog.Warn("orchestrator: get current price failed", "err", err)
		return
	}

	order, rejection := o.gate.Evaluate(ctx, trade, balance.QuoteBalance, currentPrice, money.FromInt(1), o.manager)
	if rejection != nil {
		o.logRejection(trade, rejection)
		return
	}

	if _, err := o.manager.Submit(ctx, order); err != nil {
		slog.Warn("orchestrator: submit failed", "leader", validate.MaskAddress(trade.LeaderAddress), "err", err)
	}
}

func (o *Orchestrator) logRejection(trade domain.Trade, rejection *domain.Rejection) {
	metrics.IncRejection(string(rejection.Reason))
	o.rejections.add(domain.RejectionRecord{
		TxHash: trade.TxHash,
		Reason: rejection.Reason,
		Detail: rejection.Detail,
		AtUTC:  time.Now().UTC(),
	})
	switch rejection.Reason {
	case domain.RejectBelowMin, domain.RejectDuplicate, domain.RejectStale:
		slog.Debug("trade rejected", "tx_hash", trade.TxHash, "reason", rejection.Reason, "detail", rejection.Detail)
	default:
		slog.Info("trade rejected", "tx_hash", trade.TxHash, "reason", rejection.Reason, "detail", rejection.Detail)
	}
}

// submitEndgameCandidate resolves the candidate's outcome token, builds a
// synthetic Trade so the candidate can flow through the same risk gate
// as a copy trade (with the endgame-specific sizing config), and submits
// the resulting order.
func (o *Orchestrator) submitEndgameCandidate(ctx context.Context, c endgame.Candidate) error {
	metrics.TradesEvaluated.WithLabelValues(string(domain.SourceEndgame)).Inc()

	detail, err := o.exchange.GetMarket(ctx, c.Market.ConditionID)
	if err != nil {
		return fmt.Errorf("orchestrator: get market detail: %w", err)
	}
	balance, err := o.exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: get balance: %w", err)
	}

	syntheticTrade := domain.Trade{
		TxHash:       "endgame:" + c.Market.ConditionID,
		TimestampUTC: time.Now().UTC(),
		ConditionID:  c.Market.ConditionID,
		TokenID:      detail.YesTokenID,
		Side:         domain.Buy,
		Price:        c.Probability,
		Amount:       money.FromInt(1),
	}

	order, rejection := o.egGate.Evaluate(ctx, syntheticTrade, balance.QuoteBalance, c.Probability, money.FromInt(1), o.manager)
	if rejection != nil {
		metrics.IncRejection(string(rejection.Reason))
		o.rejections.add(domain.RejectionRecord{
			TxHash: syntheticTrade.TxHash,
			Reason: rejection.Reason,
			Detail: rejection.Detail,
			AtUTC:  time.Now().UTC(),
		})
		return fmt.Errorf("endgame candidate rejected: %w", *rejection)
	}
	order.Source = domain.SourceEndgame
	order.SourceLeader = ""
	order.Question = c.Market.Question

	_, err = o.manager.Submit(ctx, order)
	return err
}

// manageLoop drives the executor's position-lifecycle tick.
func (o *Orchestrator) manageLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ManageInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.manager.ManagePositions(ctx)
			metrics.SetOpenPositions(o.manager.CountOpen())
		}
	}
}

// maintenanceLoop logs cache stats and checks collaborator health.
func (o *Orchestrator) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runMaintenance(ctx)
		}
	}
}

func (o *Orchestrator) runMaintenance(ctx context.Context) {
	stats := o.monitor.CacheStats()
	metrics.SetCacheStats("leader_response", stats.Entries, stats.Evictions)
	slog.Debug("cache stats", "cache", "leader_response", "entries", stats.Entries, "hits", stats.Hits, "misses", stats.Misses, "evictions", stats.Evictions)

	if !o.exchange.HealthCheck(ctx) {
		slog.Warn("exchange health check failed")
		if o.alert != nil {
			o.alert.Notify(ctx, ports.SeverityWarning, "exchange_unhealthy", nil)
		}
	}
	if !o.source.HealthCheck(ctx) {
		slog.Warn("leader tx source health check failed")
		if o.alert != nil {
			o.alert.Notify(ctx, ports.SeverityWarning, "tx_source_unhealthy", nil)
		}
	}

	o.notifyRejectionSummary(ctx)
}

// notifyRejectionSummary surfaces the current rejection ring buffer's
// reason tallies to the console on the same cadence as the other
// maintenance checks.
func (o *Orchestrator) notifyRejectionSummary(ctx context.Context) {
	counts := o.rejections.countsByReason()
	if len(counts) == 0 || o.alert == nil {
		return
	}
	fields := make(map[string]string, len(counts))
	for reason, n := range counts {
		fields[string(reason)] = strconv.Itoa(n)
	}
	o.alert.Notify(ctx, ports.SeverityInfo, "rejection_summary", fields)
}

func (o *Orchestrator) startMetricsServer() {
	if o.cfg.MetricsListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/rejections", o.handleRejections)
	o.metricsServer = &http.Server{Addr: o.cfg.MetricsListenAddr, Handler: mux}
	go func() {
		if err := o.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped unexpectedly", "err", err)
		}
	}()
}

// handleRejections serves the rejection ring buffer as JSON, oldest first.
func (o *Orchestrator) handleRejections(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(o.rejections.snapshot()); err != nil {
		slog.Warn("rejections handler: encode failed", "err", err)
	}
}

func (o *Orchestrator) stopMetricsServer() {
	if o.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown", "err", err)
	}
}

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alexrivas/mirrorbot/internal/endgame"
	"github.com/alexrivas/mirrorbot/internal/execution"
	"github.com/alexrivas/mirrorbot/internal/leadermonitor"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/risk"
)

// Config is the complete mirrorbot configuration, loaded from a YAML file
// and then layered with environment overrides. The follower private key
// never lives here — the entrypoint reads it directly from the environment.
// The Telegram bot token and chat ID are read from the environment into
// Alert by applyEnvOverrides and have no YAML tag.
type Config struct {
	Risk      RiskConfig      `yaml:"risk"`
	Leader    LeaderConfig    `yaml:"leader"`
	Endgame   EndgameConfig   `yaml:"endgame"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Alert     AlertConfig     `yaml:"alert"`

	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// RiskConfig mirrors the risk.* keys. Money fields are plain decimal
// strings in YAML, parsed with money.FromString at To*Config() time so a
// malformed value fails loudly instead of silently truncating to zero.
type RiskConfig struct {
	MaxDailyLoss            string `yaml:"max_daily_loss"`
	RiskPerTradeFraction    string `yaml:"risk_per_trade_fraction"`
	MaxPositionFraction     string `yaml:"max_position_fraction"`
	MaxPositionSize         string `yaml:"max_position_size"`
	MinTradeSize            string `yaml:"min_trade_size"`
	StopLossPct             string `yaml:"stop_loss_pct"`
	TakeProfitPct           string `yaml:"take_profit_pct"`
	MaxHoldDurationSeconds  int    `yaml:"max_hold_duration_seconds"`
	MaxConcurrentPositions  int    `yaml:"max_concurrent_positions"`
	MaxConsecutiveLosses    int    `yaml:"max_consecutive_losses"`
	CooldownDurationSeconds int    `yaml:"cooldown_duration_seconds"`
	MinConfidence           string `yaml:"min_confidence"` // open-question default 0 (disabled)

	// Not exposed under spec.md §6 — fixed tradeable price band and
	// leader-tx staleness window, constant across deployments.
	MinPrice         string `yaml:"-"`
	MaxPrice         string `yaml:"-"`
	MaxStalenessSecs int    `yaml:"-"`

	MinPriceRiskFraction string `yaml:"min_price_risk_fraction"`
}

// LeaderConfig mirrors leader.*. PrivateKey is intentionally absent —
// it's sourced from POLYMARKET_PRIVATE_KEY only, never YAML.
type LeaderConfig struct {
	Addresses               []string `yaml:"addresses"`
	PollIntervalSeconds      int      `yaml:"poll_interval_seconds"`
	// MaxBlockSpan is parsed and defaulted but not passed on by
	// ToLeaderMonitorConfig: the leader monitor always caps a poll at
	// leadermonitor.MaxBlockSpan (100) blocks.
	MaxBlockSpan             uint64   `yaml:"max_block_span"`
	Fanout                   int      `yaml:"fanout"`
	ExchangeContractAllowlist []string `yaml:"exchange_contract_allowlist"`

	// FillOrderSelector is the 4-byte function selector (hex, with or
	// without 0x) the call-data decoder treats as a fill — not named in
	// the external config keys, but has to live somewhere ABI-version
	// bumps can reach without a rebuild.
	FillOrderSelector string `yaml:"fill_order_selector"`

	RateLimitRPS      float64 `yaml:"rate_limit_rps"`
	RateLimitBurst    int     `yaml:"rate_limit_burst"`
	ResponseCacheTTLSeconds int `yaml:"response_cache_ttl_seconds"`
	DedupTTLSeconds   int     `yaml:"dedup_ttl_seconds"`
	DedupMaxEntries   int     `yaml:"dedup_max_entries"`
}

// EndgameConfig mirrors endgame.*.
type EndgameConfig struct {
	Enabled               bool     `yaml:"enabled"`
	ScanIntervalSeconds   int      `yaml:"scan_interval_seconds"`
	MinProbability        string   `yaml:"min_probability"`
	ProbabilityExit       string   `yaml:"probability_exit"`
	MaxDays               float64  `yaml:"max_days"`
	MinLiquidity          string   `yaml:"min_liquidity"`
	MinAnnualizedReturn   string   `yaml:"min_annualized_return"`
	MaxPositionFraction   string   `yaml:"max_position_fraction"`
	BlacklistKeywords     []string `yaml:"blacklist_keywords"`
	MinOverlapTokens      int      `yaml:"min_overlap_tokens"` // open-question default 1
}

// RateLimitConfig mirrors rate_limit.{endpoint}.interval_ms. Endpoints map
// to the polymarket adapter's three token buckets (clob, gamma, books); an
// absent or zero interval keeps that endpoint's documented-safe default.
type RateLimitConfig struct {
	Endpoints map[string]EndpointRateLimit `yaml:",inline"`
}

type EndpointRateLimit struct {
	IntervalMs int `yaml:"interval_ms"`
}

// CacheConfig mirrors cache.max_ttl_seconds, capped at 1800 (30 minutes) —
// a longer TTL risks acting on a leader trade against a market that moved.
type CacheConfig struct {
	MaxTTLSeconds int `yaml:"max_ttl_seconds"`
}

const maxCacheTTLSeconds = 1800

// APIConfig carries the exchange's HTTP base URLs plus the Polygon RPC
// endpoint used both for balance reads and leader transaction discovery.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	RPCURL    string `yaml:"rpc_url"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format and verbosity.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controls the Prometheus /metrics listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty falls back to :9090; the listener cannot be turned off from config
}

// AlertConfig configures the Telegram out-of-band sink. Both fields are
// env-only (ALERT_TELEGRAM_BOT_TOKEN, ALERT_TELEGRAM_CHAT_ID) and are
// never read from YAML or logged; ChatID of 0 leaves Telegram alerting
// disabled even if a token is present.
type AlertConfig struct {
	BotToken string `yaml:"-"`
	ChatID   int64  `yaml:"-"`
}

// OrchestratorConfig mirrors the orchestrator's own tick cadence, which
// spec.md §6 doesn't separately key but which still needs a home.
type OrchestratorConfig struct {
	ManageIntervalSeconds      int `yaml:"manage_interval_seconds"`
	MaintenanceIntervalSeconds int `yaml:"maintenance_interval_seconds"`
}

// Load reads the YAML config file, overlays a .env file if present, then
// applies environment overrides and defaults, in that order — env always
// wins over YAML, and a default only fills a value neither set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites config values with environment variables,
// and reads the secrets that never belong in YAML to begin with.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}

	cfg.Alert.BotToken = os.Getenv("ALERT_TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("ALERT_TELEGRAM_CHAT_ID"); v != "" {
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			cfg.Alert.ChatID = id
		}
	}
}

// setDefaults fills in sensible values for anything left unset by YAML
// and the environment.
func setDefaults(cfg *Config) {
	if cfg.Risk.MaxHoldDurationSeconds <= 0 {
		cfg.Risk.MaxHoldDurationSeconds = 7 * 24 * 3600
	}
	if cfg.Risk.MaxConcurrentPositions <= 0 {
		cfg.Risk.MaxConcurrentPositions = 10
	}
	if cfg.Risk.CooldownDurationSeconds <= 0 {
		cfg.Risk.CooldownDurationSeconds = 3600
	}
	if cfg.Risk.MinConfidence == "" {
		cfg.Risk.MinConfidence = "0"
	}
	if cfg.Risk.MinPriceRiskFraction == "" {
		cfg.Risk.MinPriceRiskFraction = "0.02"
	}
	if cfg.Risk.MinPrice == "" {
		cfg.Risk.MinPrice = "0.01"
	}
	if cfg.Risk.MaxPrice == "" {
		cfg.Risk.MaxPrice = "0.99"
	}
	if cfg.Risk.MaxStalenessSecs <= 0 {
		cfg.Risk.MaxStalenessSecs = 120
	}

	if cfg.Leader.PollIntervalSeconds <= 0 {
		cfg.Leader.PollIntervalSeconds = 5
	}
	if cfg.Leader.MaxBlockSpan == 0 {
		cfg.Leader.MaxBlockSpan = 2000
	}
	if cfg.Leader.Fanout <= 0 {
		cfg.Leader.Fanout = 5
	}
	if cfg.Leader.RateLimitRPS <= 0 {
		cfg.Leader.RateLimitRPS = 5
	}
	if cfg.Leader.RateLimitBurst <= 0 {
		cfg.Leader.RateLimitBurst = 10
	}
	if cfg.Leader.ResponseCacheTTLSeconds <= 0 {
		cfg.Leader.ResponseCacheTTLSeconds = 10
	}
	if cfg.Leader.DedupTTLSeconds <= 0 {
		cfg.Leader.DedupTTLSeconds = 1800
	}
	if cfg.Leader.DedupMaxEntries <= 0 {
		cfg.Leader.DedupMaxEntries = 10_000
	}
	if cfg.Leader.FillOrderSelector == "" {
		cfg.Leader.FillOrderSelector = "0xd0a08e8c"
	}

	if !cfg.Endgame.Enabled && cfg.Endgame.ScanIntervalSeconds == 0 && cfg.Endgame.MinProbability == "" {
		// nothing set at all — fall back to endgame's own spec defaults
		def := endgame.DefaultConfig()
		cfg.Endgame.Enabled = def.Enabled
		cfg.Endgame.ScanIntervalSeconds = int(def.ScanInterval.Seconds())
		cfg.Endgame.MinProbability = def.MinProbability.String()
		cfg.Endgame.ProbabilityExit = def.ProbabilityExit.String()
		cfg.Endgame.MaxDays = def.MaxDays
		cfg.Endgame.MinLiquidity = def.MinLiquidityUSD.String()
		cfg.Endgame.MinAnnualizedReturn = def.MinAnnualizedReturn.String()
		cfg.Endgame.MaxPositionFraction = def.MaxPositionFraction.String()
		cfg.Endgame.MinOverlapTokens = def.MinOverlapTokens
	}
	if cfg.Endgame.MinOverlapTokens <= 0 {
		cfg.Endgame.MinOverlapTokens = 1
	}

	if cfg.Cache.MaxTTLSeconds <= 0 {
		cfg.Cache.MaxTTLSeconds = 60
	}
	if cfg.Cache.MaxTTLSeconds > maxCacheTTLSeconds {
		cfg.Cache.MaxTTLSeconds = maxCacheTTLSeconds
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "mirrorbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}

	if cfg.Orchestrator.ManageIntervalSeconds <= 0 {
		cfg.Orchestrator.ManageIntervalSeconds = 15
	}
	if cfg.Orchestrator.MaintenanceIntervalSeconds <= 0 {
		cfg.Orchestrator.MaintenanceIntervalSeconds = 60
	}
}

// RatesFor returns the clob/gamma/books requests-per-second derived from
// rate_limit.{endpoint}.interval_ms, for polymarket.NewExchangeClientWithRates.
// A missing or zero interval yields rps 0, which tells the client to keep
// its own documented-safe default for that endpoint.
func (c *Config) RatesFor() (clobRPS, gammaRPS, booksRPS float64) {
	return rpsOf(c.RateLimit.Endpoints, "clob"), rpsOf(c.RateLimit.Endpoints, "gamma"), rpsOf(c.RateLimit.Endpoints, "books")
}

func rpsOf(endpoints map[string]EndpointRateLimit, name string) float64 {
	e, ok := endpoints[name]
	if !ok || e.IntervalMs <= 0 {
		return 0
	}
	return 1000.0 / float64(e.IntervalMs)
}

// ToGateConfig builds the entry-gate's threshold set.
func (c *Config) ToGateConfig() (risk.GateConfig, error) {
	r := c.Risk
	fields := map[string]*string{
		"max_position_fraction":   &r.MaxPositionFraction,
		"risk_per_trade_fraction": &r.RiskPerTradeFraction,
		"max_position_size":       &r.MaxPositionSize,
		"min_trade_size":          &r.MinTradeSize,
		"stop_loss_pct":           &r.StopLossPct,
		"take_profit_pct":         &r.TakeProfitPct,
		"min_confidence":          &r.MinConfidence,
		"min_price_risk_fraction": &r.MinPriceRiskFraction,
		"min_price":               &r.MinPrice,
		"max_price":               &r.MaxPrice,
	}
	parsed := make(map[string]money.Money, len(fields))
	for key, raw := range fields {
		m, err := money.FromString(*raw)
		if err != nil {
			return risk.GateConfig{}, fmt.Errorf("config.ToGateConfig: risk.%s: %w", key, err)
		}
		parsed[key] = m
	}

	return risk.GateConfig{
		MaxStaleness:           time.Duration(r.MaxStalenessSecs) * time.Second,
		MaxConcurrentPositions: r.MaxConcurrentPositions,
		MinPrice:               parsed["min_price"],
		MaxPrice:               parsed["max_price"],
		RiskPerTradeFraction:   parsed["risk_per_trade_fraction"],
		MinPriceRiskFraction:   parsed["min_price_risk_fraction"],
		MaxPositionSize:        parsed["max_position_size"],
		MaxPositionFraction:    parsed["max_position_fraction"],
		MinTradeSize:           parsed["min_trade_size"],
		StopLossPct:            parsed["stop_loss_pct"],
		TakeProfitPct:          parsed["take_profit_pct"],
		MaxHoldDuration:        time.Duration(r.MaxHoldDurationSeconds) * time.Second,
		MinConfidence:          parsed["min_confidence"],
	}, nil
}

// ToEndgameGateConfig builds the gate the endgame sweeper evaluates its
// synthetic trades against: the same thresholds as ToGateConfig, except
// MaxPositionFraction comes from endgame.max_position_fraction (spec.md
// §4.4 sizes endgame entries independently of the copy-trading gate's
// sizing) and confidence gating never applies, since the sweeper supplies
// a fixed confidence of 1 rather than a leader-trade confidence score.
func (c *Config) ToEndgameGateConfig() (risk.GateConfig, error) {
	gate, err := c.ToGateConfig()
	if err != nil {
		return risk.GateConfig{}, err
	}
	maxFrac, err := money.FromString(c.Endgame.MaxPositionFraction)
	if err != nil {
		return risk.GateConfig{}, fmt.Errorf("config.ToEndgameGateConfig: endgame.max_position_fraction: %w", err)
	}
	gate.MaxPositionFraction = maxFrac
	gate.MinConfidence = money.Zero
	return gate, nil
}

// ToBreakerConfig builds the circuit breaker's thresholds.
func (c *Config) ToBreakerConfig() (risk.BreakerConfig, error) {
	maxLoss, err := money.FromString(c.Risk.MaxDailyLoss)
	if err != nil {
		return risk.BreakerConfig{}, fmt.Errorf("config.ToBreakerConfig: risk.max_daily_loss: %w", err)
	}
	return risk.BreakerConfig{
		MaxDailyLoss:         maxLoss,
		MaxConsecutiveLosses: c.Risk.MaxConsecutiveLosses,
		CooldownDuration:     time.Duration(c.Risk.CooldownDurationSeconds) * time.Second,
	}, nil
}

// ToLeaderMonitorConfig builds the leader monitor's polling and fan-out
// configuration. ExchangeContractAllowlist addresses are lower-cased so
// lookups never depend on the YAML author's checksum casing.
func (c *Config) ToLeaderMonitorConfig() leadermonitor.Config {
	allow := make(map[string]bool, len(c.Leader.ExchangeContractAllowlist))
	for _, addr := range c.Leader.ExchangeContractAllowlist {
		allow[strings.ToLower(addr)] = true
	}
	return leadermonitor.Config{
		Leaders:           c.Leader.Addresses,
		ExchangeAllowlist: allow,
		PollInterval:      time.Duration(c.Leader.PollIntervalSeconds) * time.Second,
		Fanout:            c.Leader.Fanout,
		RateLimitRPS:      c.Leader.RateLimitRPS,
		RateLimitBurst:    c.Leader.RateLimitBurst,
		ResponseCacheTTL:  time.Duration(c.Leader.ResponseCacheTTLSeconds) * time.Second,
		DedupTTL:          time.Duration(c.Leader.DedupTTLSeconds) * time.Second,
		DedupMaxEntries:   c.Leader.DedupMaxEntries,
	}
}

// FillOrderSelectorBytes parses leader.fill_order_selector into the
// [4]byte form leadermonitor.NewFixedLayoutDecoder expects.
func (c *Config) FillOrderSelectorBytes() ([4]byte, error) {
	var sel [4]byte
	raw := strings.TrimPrefix(c.Leader.FillOrderSelector, "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 4 {
		return sel, fmt.Errorf("config: leader.fill_order_selector must be 4 bytes of hex, got %q", c.Leader.FillOrderSelector)
	}
	copy(sel[:], decoded)
	return sel, nil
}

// ToEndgameConfig builds the resolution-window sweeper's thresholds.
func (c *Config) ToEndgameConfig() (endgame.Config, error) {
	e := c.Endgame
	fields := map[string]string{
		"min_probability":       e.MinProbability,
		"probability_exit":      e.ProbabilityExit,
		"min_liquidity":         e.MinLiquidity,
		"min_annualized_return": e.MinAnnualizedReturn,
		"max_position_fraction": e.MaxPositionFraction,
	}
	parsed := make(map[string]money.Money, len(fields))
	for key, raw := range fields {
		m, err := money.FromString(raw)
		if err != nil {
			return endgame.Config{}, fmt.Errorf("config.ToEndgameConfig: endgame.%s: %w", key, err)
		}
		parsed[key] = m
	}

	return endgame.Config{
		Enabled:             e.Enabled,
		ScanInterval:        time.Duration(e.ScanIntervalSeconds) * time.Second,
		MaxDays:             e.MaxDays,
		MinLiquidityUSD:     parsed["min_liquidity"],
		MinProbability:      parsed["min_probability"],
		MinAnnualizedReturn: parsed["min_annualized_return"],
		MaxPositionFraction: parsed["max_position_fraction"],
		ProbabilityExit:     parsed["probability_exit"],
		BlacklistKeywords:   e.BlacklistKeywords,
		MinOverlapTokens:    e.MinOverlapTokens,
	}, nil
}

// ToExecutionConfig builds the executor/position-manager's tick and exit
// thresholds, reusing the same stop-loss/take-profit/hold-duration values
// as the entry gate so a position's exit rules match what let it in.
func (c *Config) ToExecutionConfig() (execution.Config, error) {
	stopLoss, err := money.FromString(c.Risk.StopLossPct)
	if err != nil {
		return execution.Config{}, fmt.Errorf("config.ToExecutionConfig: risk.stop_loss_pct: %w", err)
	}
	takeProfit, err := money.FromString(c.Risk.TakeProfitPct)
	if err != nil {
		return execution.Config{}, fmt.Errorf("config.ToExecutionConfig: risk.take_profit_pct: %w", err)
	}
	probExit, err := money.FromString(c.Endgame.ProbabilityExit)
	if err != nil {
		return execution.Config{}, fmt.Errorf("config.ToExecutionConfig: endgame.probability_exit: %w", err)
	}
	return execution.Config{
		MaxRetries:      3,
		RetryBaseDelay:  500 * time.Millisecond,
		ManageInterval:  time.Duration(c.Orchestrator.ManageIntervalSeconds) * time.Second,
		StopLossPct:     stopLoss,
		TakeProfitPct:   takeProfit,
		MaxHoldDuration: time.Duration(c.Risk.MaxHoldDurationSeconds) * time.Second,
		ProbabilityExit: probExit,
		PositionLockTTL: 30 * time.Second,
	}, nil
}

package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	carvecfg "carve/internal/config"
	"carve/internal/engine"
	"carve/internal/execution"
	"carve/internal/gateway/binance"
	"carve/internal/gateway/exchange"
	"carve/internal/gateway/notifier"
	"carve/internal/gateway/sim"
	"carve/internal/ledger"
	"carve/internal/logger"
	"carve/internal/market"
	"carve/internal/risk"
	"carve/internal/riskprofile"
	"carve/internal/signal"
	"carve/internal/signal/processor"
	"carve/internal/store/gormstore"
	enginehttp "carve/internal/transport/http"
)

// AppBuilder assembles the dependency graph. The Fn fields exist so tests
// can substitute fakes without touching the wiring order.
type AppBuilder struct {
	cfg *carvecfg.Config

	feedFn     func(carvecfg.MarketConfig) (market.Feed, error)
	gatewayFn  func(carvecfg.GatewayConfig, market.Feed) (exchange.Gateway, error)
	auditFn    func(carvecfg.StoreConfig) (*gormstore.AuditStore, error)
	notifierFn func(carvecfg.NotifyConfig) notifier.TextNotifier
	httpFn     func(enginehttp.ServerConfig) (*enginehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *carvecfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		feedFn:     buildFeed,
		gatewayFn:  buildGateway,
		auditFn:    buildAuditStore,
		notifierFn: buildNotifier,
		httpFn:     enginehttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	feed, err := b.feedFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("building market feed: %w", err)
	}
	gw, err := b.gatewayFn(cfg.Gateway, feed)
	if err != nil {
		return nil, fmt.Errorf("building order gateway: %w", err)
	}

	limiter, registry, err := buildLimiter(cfg.Risk)
	if err != nil {
		return nil, err
	}

	book := ledger.New()
	session := engine.NewSession()

	sched := execution.NewScheduler(execution.Config{
		TickInterval:        secondsToDuration(cfg.Execution.TickIntervalSeconds),
		SubmitTimeout:       secondsToDuration(cfg.Execution.SubmitTimeoutSeconds),
		FeedTimeout:         secondsToDuration(cfg.Execution.FeedTimeoutSeconds),
		DefaultWindow:       secondsToDuration(cfg.Execution.DefaultWindowSeconds),
		VWAPLookback:        cfg.Execution.VWAPLookback,
		VWAPParticipation:   cfg.Execution.VWAPParticipation,
		PoVParticipationCap: cfg.Execution.PoVParticipationCap,
	}, gw, feed, book)
	sched.SetFillListener(func(rec execution.FillRecord) {
		if rec.Side == "SELL" {
			session.RecordFill(rec.RealizedPnL)
		}
	})

	var audit *gormstore.AuditStore
	if cfg.Store.Enabled {
		audit, err = b.auditFn(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("building audit store: %w", err)
		}
		sched.SetAudit(audit)
		logger.Infof("Audit store at %s", cfg.Store.Path)
	}

	proc := processor.New(limiter, book, gw, sched, session)
	proc.SetSubmitTimeout(secondsToDuration(cfg.Execution.SubmitTimeoutSeconds))

	eng := engine.New(engine.Config{
		PortfolioInterval:   secondsToDuration(cfg.Engine.PortfolioIntervalSeconds),
		RiskInterval:        secondsToDuration(cfg.Engine.RiskIntervalSeconds),
		PerformanceInterval: secondsToDuration(cfg.Engine.PerformanceIntervalSeconds),
		SignalPollInterval:  secondsToDuration(cfg.Engine.SignalPollSeconds),
		FeedTimeout:         secondsToDuration(cfg.Execution.FeedTimeoutSeconds),
		DegradedThreshold:   cfg.Engine.DegradedThreshold,
		InitialEquity:       cfg.Engine.InitialEquity,
	}, limiter, book, proc, sched, feed, session)

	if n := b.notifierFn(cfg.Notify); n != nil {
		eng.SetNotifier(n)
		sched.SetNotifier(n)
		logger.Infof("Telegram notifications enabled")
	}

	if cfg.Signals.RSI.Enabled {
		eng.SetGenerator(signal.NewRSIGenerator(feed, signal.RSIConfig{
			Symbols:    cfg.Signals.RSI.Symbols,
			Period:     cfg.Signals.RSI.Period,
			Overbought: cfg.Signals.RSI.Overbought,
			Oversold:   cfg.Signals.RSI.Oversold,
			Lookback:   cfg.Signals.RSI.Lookback,
			Quantity:   cfg.Signals.RSI.Quantity,
			Algorithm:  cfg.Signals.RSI.Algorithm,
		}))
		logger.Infof("RSI generator watching %v", cfg.Signals.RSI.Symbols)
	}

	srvCfg := enginehttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  eng,
		Limiter: limiter,
	}
	// Assign the optional deps only when present, so the router's nil
	// checks see a nil interface rather than a typed nil pointer.
	if audit != nil {
		srvCfg.Audit = audit
	}
	if registry != nil {
		srvCfg.Profiles = registry
	}
	httpSrv, err := b.httpFn(srvCfg)
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	return &App{cfg: cfg, engine: eng, http: httpSrv, audit: audit}, nil
}

func buildFeed(cfg carvecfg.MarketConfig) (market.Feed, error) {
	return binance.New(binance.Config{
		RESTBaseURL:  cfg.Binance.RESTBaseURL,
		HTTPTimeout:  secondsToDuration(cfg.Binance.HTTPTimeoutSeconds),
		ProxyEnabled: cfg.Binance.ProxyEnabled,
		ProxyURL:     cfg.Binance.ProxyURL,
		Interval:     cfg.Binance.Interval,
	})
}

func buildGateway(cfg carvecfg.GatewayConfig, feed market.Feed) (exchange.Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode != "sim" {
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.Mode)
	}
	g := sim.New(sim.Config{
		Slippage:     cfg.Sim.Slippage,
		MaxLiquidity: cfg.Sim.MaxLiquidity,
		Latency:      time.Duration(cfg.Sim.LatencyMs) * time.Millisecond,
	})
	g.SetFeed(feed)
	return g, nil
}

// buildLimiter resolves the starting limits. A named profile wins over the
// inline risk section; profile hot reloads keep flowing into the limiter as
// long as the active profile still exists in the file.
func buildLimiter(cfg carvecfg.RiskConfig) (*risk.Limiter, *riskprofile.Registry, error) {
	inline := risk.Limits{
		MaxPositions:    cfg.MaxPositions,
		MaxRiskPerTrade: cfg.MaxRiskPerTrade,
		MaxDailyLoss:    cfg.MaxDailyLoss,
		StopLossPct:     cfg.StopLossPct,
		TakeProfitPct:   cfg.TakeProfitPct,
		MaxDrawdownPct:  cfg.MaxDrawdownPct,
	}

	profile := strings.TrimSpace(cfg.Profile)
	if profile == "" {
		return risk.NewLimiter(inline), nil, nil
	}
	if _, err := os.Stat(cfg.ProfilesPath); err != nil {
		return nil, nil, fmt.Errorf("risk.profile=%q set but profiles file unavailable: %w", profile, err)
	}
	registry, err := riskprofile.NewRegistry(cfg.ProfilesPath)
	if err != nil {
		return nil, nil, err
	}
	limits, err := registry.Limits(profile)
	if err != nil {
		return nil, nil, err
	}
	limiter := risk.NewLimiter(limits)
	registry.OnChange(func(snap riskprofile.Snapshot) {
		p, ok := snap.Profiles[profile]
		if !ok {
			logger.Warnf("Risk profile %q missing after reload, keeping current limits", profile)
			return
		}
		limiter.SetLimits(p.Limits)
		logger.Infof("Risk limits refreshed from profile %q (version %d)", profile, snap.Version)
	})
	logger.Infof("Risk limits from profile %q", profile)
	return limiter, registry, nil
}

func buildAuditStore(cfg carvecfg.StoreConfig) (*gormstore.AuditStore, error) {
	return gormstore.New(cfg.Path)
}

func buildNotifier(cfg carvecfg.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

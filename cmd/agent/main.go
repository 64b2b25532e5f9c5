// Command agent runs the market-making session: it connects to the
// simulated exchange, quotes every configured instrument, answers tender
// offers, and flattens all resting orders on the way out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"market-agent-go/config"
	"market-agent-go/engine"
	"market-agent-go/exchange"
	"market-agent-go/infrastructure/logger"
	"market-agent-go/inventory"
	"market-agent-go/market"
	"market-agent-go/metrics"
	"market-agent-go/order"
	"market-agent-go/posttrade"
	"market-agent-go/quote"
	"market-agent-go/risk"
	sigengine "market-agent-go/signal"
	"market-agent-go/tender"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	instruments := flag.String("instruments", "", "comma-separated subset of configured instruments (default: all)")
	dryRun := flag.Bool("dryRun", false, "log order intents without sending them")
	metricsAddr := flag.String("metricsAddr", "", "override the metrics listen address from config")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *instruments != "" {
		cfg.Instruments = filterInstruments(cfg.Instruments, *instruments)
		if len(cfg.Instruments) == 0 {
			fmt.Fprintf(os.Stderr, "no configured instrument matches -instruments=%s\n", *instruments)
			os.Exit(1)
		}
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	addr := cfg.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	metrics.Serve(addr)

	client := &exchange.Client{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		HTTPClient: exchange.NewDefaultHTTPClient(),
		Limiter:    exchange.NewTokenBucketLimiter(cfg.Exchange.RestRate, cfg.Exchange.RestBurst),
	}
	if c, err := client.Case(); err != nil {
		log.Fatal("exchange unreachable", zap.String("base_url", cfg.Exchange.BaseURL), zap.Error(err))
	} else {
		log.Info("session", zap.String("name", c.Name), zap.Int("tick", c.Tick), zap.Int("ticks_per_period", c.TicksPerPd))
	}

	var budget exchange.RateLimiter
	if cfg.Session.OrdersPerSecond > 0 {
		budget = exchange.NewTokenBucketLimiter(float64(cfg.Session.OrdersPerSecond), cfg.Session.OrdersPerSecond)
	}
	gw := &restOrderGateway{client: client, budget: budget, dryRun: *dryRun, log: log.Named("gateway")}
	mgr := order.NewManager(gw)

	constraints := make(map[string]order.Constraints, len(cfg.Instruments))
	maxWindow := 0
	for id, ic := range cfg.Instruments {
		constraints[id] = order.Constraints{
			TickSize:     ic.TickSize,
			MinOrderSize: ic.MinOrderSize,
			MaxOrderSize: ic.MaxOrderSize,
		}
		if ic.Signal.WindowSize > maxWindow {
			maxWindow = ic.Signal.WindowSize
		}
	}
	mgr.SetConstraints(constraints)
	cache := market.NewCache(maxWindow)

	insts := make(map[string]*engine.Instrument, len(cfg.Instruments))
	for id, ic := range cfg.Instruments {
		spec := quote.InstrumentSpec{
			ID:            id,
			TickSize:      ic.TickSize,
			MinOrderSize:  ic.MinOrderSize,
			MaxOrderSize:  ic.MaxOrderSize,
			PositionLimit: ic.PositionLimit,
		}
		builder, err := quote.NewBuilder(spec, quote.Config{
			BaseHalfSpread: ic.Quoting.BaseHalfSpread,
			VolFactor:      ic.Quoting.VolFactor,
			SkewFactor:     ic.Quoting.SkewFactor,
			ZBiasCap:       ic.Quoting.ZBiasCap,
			BiasFraction:   ic.Quoting.BiasFraction,
			BaseSize:       ic.Quoting.BaseSize,
		})
		if err != nil {
			log.Fatal("quote builder", zap.String("instrument", id), zap.Error(err))
		}
		insts[id] = &engine.Instrument{
			Spec:       spec,
			Signals:    sigengine.NewEngine(ic.Signal.MinPoints, ic.Signal.ZThreshold),
			Builder:    builder,
			Risk:       risk.NewTracker(ic.PositionLimit, ic.ElevatedFrac),
			Position:   inventory.NewTracker(id),
			Reconciler: order.NewReconciler(mgr, id, ic.TickSize, ic.Refresh.ToleranceTicks, ic.Refresh.Staleness()),
			WindowSize: ic.Signal.WindowSize,
		}
	}

	stream := exchange.NewStream(cfg.Exchange.WSEndpoint, cfg.Exchange.APIKey, cfg.Session.EventQueueLength, log.Named("stream").Logger)

	markouts := posttrade.NewAnalyzer(func(instrument string) (float64, bool) {
		p, ok := cache.Last(instrument)
		if !ok {
			return 0, false
		}
		return p.Price, true
	})

	eng, err := engine.New(engine.Config{
		TickInterval: cfg.Session.TickInterval(),
		FeedTimeout:  cfg.Session.FeedTimeout(),
	}, engine.Components{
		Cache:  cache,
		Orders: mgr,
		Guard: risk.AggregateGuard{
			GrossLimit: cfg.Aggregate.GrossLimit,
			NetLimit:   cfg.Aggregate.NetLimit,
		},
		Instruments: insts,
		Events:      stream.Events(),
		Logger:      log.Named("engine"),
		Markouts:    markouts,
	})
	if err != nil {
		log.Fatal("engine wiring", zap.Error(err))
	}

	stream.SetFatalErrorHandler(func(err error) {
		log.Error("feed fatal, shutting down", zap.Error(err))
		eng.Stop()
	})
	if err := stream.Start(); err != nil {
		log.Fatal("start stream", zap.Error(err))
	}
	defer stream.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	maxUnwind := 0.0
	for _, ic := range cfg.Instruments {
		if maxUnwind == 0 || ic.MaxOrderSize < maxUnwind {
			maxUnwind = ic.MaxOrderSize
		}
	}
	evaluator := tender.NewEvaluator(tender.Config{
		MaxUnwindSlice: maxUnwind,
		Guard: risk.AggregateGuard{
			GrossLimit: cfg.Aggregate.GrossLimit,
			NetLimit:   cfg.Aggregate.NetLimit,
		},
	})
	tenderLog := log.Named("tender")
	hooks := tender.Hooks{
		Holdings: eng.Holdings,
		History: func(instrument string) []float64 {
			win := cache.Window(instrument)
			prices := make([]float64, len(win))
			for i, p := range win {
				prices[i] = p.Price
			}
			return prices
		},
		OnAccept: func(instrument, action string, price, qty float64) {
			if err := eng.ApplyBlock(instrument, action, price, qty); err != nil {
				tenderLog.Error("block not applied to position", zap.Error(err))
			}
		},
	}
	runner := tender.NewRunner(client, evaluator, hooks, 2*time.Second, tenderLog, *dryRun)
	go runner.Run(ctx)

	// Config edits cannot be applied to a live session; say so instead of
	// silently ignoring them. Start blocks until ctx ends, so it runs beside
	// the engine like the tender runner does.
	watcher := config.Watcher{Path: *cfgPath, Cooldown: 2 * time.Second}
	go func() {
		err := watcher.Start(ctx, func(_ config.SessionConfig, err error) {
			if err != nil {
				log.Warn("config file changed but does not validate", zap.Error(err))
				return
			}
			log.Warn("config file changed; restart the agent to apply it")
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("config watcher unavailable", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info("signal received", zap.String("signal", sig.String()))
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		eng.Stop()
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := eng.Run(ctx); err != nil {
		log.Error("engine exited with error", zap.Error(err))
		os.Exit(1)
	}
	stats := eng.GetStatistics()
	marks := markouts.Stats()
	log.Info("session complete",
		zap.Int64("ticks", stats.TotalTicks),
		zap.Int64("quotes", stats.TotalQuotes),
		zap.Int64("fills", stats.TotalFills),
		zap.Int64("errors", stats.TotalErrors),
		zap.Int("fills_analyzed", marks.AnalyzedFills),
		zap.Float64("adverse_rate", marks.AdverseRate),
		zap.Float64("avg_markout_1s", marks.AvgMarkShort),
		zap.Float64("avg_markout_5s", marks.AvgMarkLong))
}

func filterInstruments(all map[string]config.InstrumentConfig, list string) map[string]config.InstrumentConfig {
	keep := make(map[string]config.InstrumentConfig)
	for _, raw := range strings.Split(list, ",") {
		id := strings.ToUpper(strings.TrimSpace(raw))
		if ic, ok := all[id]; ok {
			keep[id] = ic
		}
	}
	return keep
}

// restOrderGateway adapts the exchange REST client to the order manager's
// gateway. Placements draw on the session's order-entry budget before the
// REST limiter sees them. In dry-run mode it fabricates exchange ids and
// sends nothing.
type restOrderGateway struct {
	client *exchange.Client
	budget exchange.RateLimiter // order-entry budget, nil = unlimited
	dryRun bool
	log    *logger.Logger
	mu     sync.Mutex
	seq    int
}

func (g *restOrderGateway) Place(o order.Order) (string, error) {
	if g.dryRun {
		g.mu.Lock()
		g.seq++
		id := fmt.Sprintf("DRY-%d", g.seq)
		g.mu.Unlock()
		g.log.LogOrder("place_dry_run", o.ID,
			zap.String("instrument", o.Instrument),
			zap.String("side", o.Side),
			zap.Float64("price", o.Price),
			zap.Float64("qty", o.Quantity))
		metrics.OrdersPlaced.WithLabelValues(o.Instrument, o.Side).Inc()
		return id, nil
	}
	if g.budget != nil {
		if err := g.budget.Wait(context.Background()); err != nil {
			return "", err
		}
	}
	ack, err := g.client.PlaceOrder(exchange.OrderRequest{
		Ticker:   o.Instrument,
		Type:     "LIMIT",
		Action:   o.Side,
		Quantity: o.Quantity,
		Price:    o.Price,
	})
	if err != nil {
		return "", err
	}
	g.log.LogOrder("place", o.ID,
		zap.String("instrument", o.Instrument),
		zap.String("side", o.Side),
		zap.Float64("price", o.Price),
		zap.Float64("qty", o.Quantity),
		zap.String("exchange_id", ack.OrderID))
	metrics.OrdersPlaced.WithLabelValues(o.Instrument, o.Side).Inc()
	return ack.OrderID, nil
}

func (g *restOrderGateway) Cancel(exchangeID string) error {
	if g.dryRun {
		g.log.LogOrder("cancel_dry_run", exchangeID)
		return nil
	}
	if err := g.client.CancelOrder(exchangeID); err != nil {
		return err
	}
	g.log.LogOrder("cancel", exchangeID)
	return nil
}

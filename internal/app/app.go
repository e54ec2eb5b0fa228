package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trade-alert-engine/internal/alerting"
	"trade-alert-engine/internal/config"
	"trade-alert-engine/internal/fetcher"
	"trade-alert-engine/internal/indicator"
	"trade-alert-engine/internal/logging"
	"trade-alert-engine/internal/metrics"
	"trade-alert-engine/internal/service"
	"trade-alert-engine/internal/storage"
	"trade-alert-engine/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) newFetcher() (fetcher.PriceFetcher, error) {
	switch a.Config.Market.Source {
	case "binance":
		return fetcher.NewBinance(fetcher.BinanceOptions{
			BaseURL:   a.Config.Market.Binance.BaseURL,
			Timeout:   a.Config.Market.Binance.RequestTimeout,
			UserAgent: version.UserAgent(),
		}, a.Logger), nil
	case "chainlink":
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  a.Config.Market.Chainlink.RPCURL,
			Feeds:   a.Config.Market.Chainlink.Feeds,
			Timeout: a.Config.Market.Chainlink.RequestTimeout,
		}, a.Logger), nil
	case "demo", "":
		a.Logger.Warn().Msg("market.source is demo; candles are simulated")
		return fetcher.NewDemo(time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unsupported market source %q", a.Config.Market.Source)
	}
}

// newPublisher fans out to every enabled channel. The returned closer
// releases their connections.
func (a *App) newPublisher(ctx context.Context) (alerting.Publisher, func(), error) {
	cfg := a.Config.Publish
	var publishers alerting.Multi
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close publisher")
			}
		}
	}

	if cfg.Redis.Enabled {
		p, err := alerting.NewRedisPublisher(ctx, alerting.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, a.Logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publishers = append(publishers, p)
		closers = append(closers, p.Close)
	}
	if cfg.Kafka.Enabled {
		p, err := alerting.NewKafkaPublisher(alerting.KafkaOptions{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, a.Logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publishers = append(publishers, p)
		closers = append(closers, p.Close)
	}
	if cfg.Telegram.Enabled {
		publishers = append(publishers, alerting.NewTelegramPublisher(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger))
	}

	if len(publishers) == 0 {
		a.Logger.Warn().Msg("no publish channel enabled; alerts are only persisted")
		return alerting.Discard{}, closeAll, nil
	}
	return publishers, closeAll, nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	if a.Config.Database.Driver == "memory" {
		a.Logger.Warn().Msg("database.driver is memory; rules and events are lost on exit")
	}
	return storage.Open(ctx, a.Config.Database)
}

// components holds one wiring of the engine.
type components struct {
	emitter  *service.Emitter
	sweeper  *service.Sweeper
	outcomes *service.OutcomeEvaluator
	engine   *service.Engine
}

func (a *App) wire(store storage.Backend, prices fetcher.PriceFetcher, indicators service.IndicatorSource, publisher alerting.Publisher, recorder service.Recorder) components {
	cfg := a.Config
	emitter := service.NewEmitter(store, store, publisher, service.EmitterOptions{
		ChannelPrefix:  cfg.Publish.ChannelPrefix,
		PublishTimeout: cfg.Publish.Timeout,
		WriteTimeout:   cfg.Engine.WriteTimeout,
	}, recorder, a.Logger)
	sweeper := service.NewSweeper(store, prices, indicators, emitter, service.SweepOptions{
		RuleTimeout: cfg.Engine.RuleTimeout,
		LockKey:     cfg.Engine.AdvisoryLockKey,
	}, recorder, a.Logger)
	outcomes := service.NewOutcomeEvaluator(store, prices, service.OutcomeOptions{
		BatchSize:      cfg.Outcome.BatchSize,
		MinAge:         cfg.Outcome.MinAge,
		NoiseThreshold: cfg.Outcome.NoiseThreshold,
		EventTimeout:   cfg.Outcome.Timeout,
	}, recorder, a.Logger)
	engine := service.NewEngine(sweeper, outcomes, indicators, service.EngineOptions{
		SweepInterval:   cfg.Engine.Interval,
		OutcomeInterval: cfg.Outcome.Interval,
		TickBudget:      cfg.Engine.TickBudget,
		StartupDelay:    cfg.Engine.StartupDelay,
	}, recorder, a.Logger)
	return components{emitter: emitter, sweeper: sweeper, outcomes: outcomes, engine: engine}
}

// RunOptions tune the run command.
type RunOptions struct {
	Warmup bool
}

// Run executes the long-running alert engine until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	prices, err := a.newFetcher()
	if err != nil {
		return err
	}

	publisher, closePublisher, err := a.newPublisher(ctx)
	if err != nil {
		return err
	}
	defer closePublisher()

	var recorder *metrics.Recorder
	if a.Config.Metrics.Enabled {
		recorder = metrics.New()
	}

	tracker := indicator.NewTracker(a.Config.Engine.WindowSize)
	if opts.Warmup || a.Config.Engine.Warmup {
		if err := a.warmup(ctx, store, prices, tracker); err != nil {
			a.Logger.Warn().Err(err).Msg("indicator warmup incomplete")
		}
	}

	parts := a.wire(store, prices, tracker, publisher, recorder)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		parts.engine.Start(gctx)
		<-gctx.Done()
		parts.engine.Stop()
		return nil
	})
	if recorder != nil {
		g.Go(func() error {
			return a.serveMetrics(gctx, recorder)
		})
	}

	a.Logger.Info().
		Str("market", a.Config.Market.Source).
		Str("database", a.Config.Database.Driver).
		Dur("interval", a.Config.Engine.Interval).
		Msg("starting alert engine")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("alert engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert engine stopped")
	return nil
}

func (a *App) serveMetrics(ctx context.Context, recorder *metrics.Recorder) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("listen", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ExportOptions hold parameters for exporting alert history.
type ExportOptions struct {
	Owner     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Owner string
	Limit int
}

// StatsOptions configure the stats command.
type StatsOptions struct {
	Owner string
	JSON  bool
}

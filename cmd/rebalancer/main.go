package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/config"
	"github.com/A2K/binance-trading-cli-sub000/internal/exchange/binance"
	"github.com/A2K/binance-trading-cli-sub000/internal/handler"
	"github.com/A2K/binance-trading-cli-sub000/internal/market"
	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/A2K/binance-trading-cli-sub000/internal/repository"
	"github.com/A2K/binance-trading-cli-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
	dryRun     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "rebalancer",
		Short:         "Keep a spot portfolio at its target USD allocations",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, notice, warn or error")
	root.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log intended trades instead of placing orders")

	root.AddCommand(newImportCmd(opts))
	return root
}

func newImportCmd(opts *options) *cobra.Command {
	var (
		symbols []string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "import-trades",
		Short: "Import exchange trade history into the trade log",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.close()

			n, err := rt.app.ImportTrades(cmd.Context(), symbols, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d trades\n", n)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to import (default: all allocated)")
	cmd.Flags().IntVar(&limit, "limit", 1000, "trades per symbol")
	return cmd
}

// runtime is everything bootstrap builds, with the closers to undo it.
type runtime struct {
	cfg     *config.Config
	app     *service.App
	closers []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func bootstrap(ctx context.Context, opts *options) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger.Init(level)
	rt := &runtime{cfg: cfg}

	client, err := binance.NewClient(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("exchange client: %w", err)
	}
	gw := service.NewGateway(client, service.GatewayOptions{
		AccountTTL:  cfg.Exchange.AccountCacheTTL(),
		WaitTimeout: cfg.Exchange.RequestTimeout(),
	})
	_ = gw.Init(ctx) // defaults stay in force on failure

	// Settings Persistence (Redis > File)
	var store service.SettingsStore
	if cfg.Settings.Store == "redis" {
		rdb, err := repository.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Redis")
		rt.closers = append(rt.closers, func() { rdb.Close() })
		store = repository.NewRedisSettingsStore(rdb, cfg.Redis.KeyPrefix)
	} else {
		fileStore, err := repository.NewFileSettingsStore(cfg.Settings.Dir)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}
	settings := service.NewSettingsRepo(store, cfg.Settings.Defaults, cfg.Settings.Debounce())
	if err := settings.Load(ctx, cfg.Settings.Allocations); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		if err := settings.Close(); err != nil {
			logger.Error("Failed to flush settings", "error", err)
		}
	})

	// Trade log (Postgres > Memory)
	var trades service.TransactionStore = service.NewMemoryTradeStore()
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to DB, trades will be kept in memory", "error", err)
		} else {
			pg, err := repository.NewPostgresTradeStore(ctx, db)
			if err != nil {
				db.Close()
				return nil, err
			}
			logger.Info("Connected to PostgreSQL")
			rt.closers = append(rt.closers, func() { db.Close() })
			trades = pg
		}
	}

	msgs, err := service.NewMessageLog(cfg.Engine.MessageLogDir, cfg.Engine.MessageBuffer)
	if err != nil {
		return nil, fmt.Errorf("message log: %w", err)
	}
	rt.closers = append(rt.closers, msgs.Close)

	rt.app = service.NewApp(service.AppDeps{
		Gateway:  gw,
		Settings: settings,
		Balances: service.NewBalances(gw),
		Staking: service.NewStakingLedger(gw, msgs, service.StakingOptions{
			SwapRoutes:  cfg.Staking.SwapRoutes,
			ProductTTL:  cfg.Staking.ProductCacheTTL(),
			PositionTTL: cfg.Staking.PositionCacheTTL(),
		}),
		Trades:         trades,
		Guard:          service.NewDailyLossGuard(trades, time.Minute),
		Messages:       msgs,
		TradeFlagDecay: cfg.Engine.TradeFlagDecay(),
	})
	return rt, nil
}

func run(parent context.Context, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, app := rt.cfg, rt.app

	if err := app.Preload(ctx); err != nil {
		return fmt.Errorf("preload assets: %w", err)
	}

	exec := service.NewExecutor(app, service.ExecutorOptions{
		StopOffsetTicks: cfg.Engine.StopOffsetTicks,
		BuyBufferPct:    cfg.Engine.BuyBufferPct,
	})
	engine := service.NewEngine(app, exec, service.EngineOptions{
		Debounce:  cfg.Engine.Debounce(),
		OrderMode: cfg.Engine.OrderMode,
		DryRun:    opts.dryRun,
	})
	if opts.dryRun {
		app.Messages.Notice("", "dry run: orders will be logged, not placed")
	}

	streamURL := cfg.Exchange.StreamURL
	if cfg.Exchange.Testnet {
		streamURL = market.TestnetStreamURL
	}

	// Market Data
	book := market.NewBookTickerStream(streamURL, func(t model.Tick) {
		engine.HandleTick(ctx, t)
	})
	if err := book.Subscribe(app.Pairs()); err != nil {
		return err
	}
	book.Start()
	defer book.Stop()

	// User Execution Stream
	if cfg.Exchange.APIKey != "" {
		user := market.NewUserStream(streamURL, app.Gateway, market.UserHandlers{
			OnBalance: app.Balances.Apply,
			OnBalanceChange: func(string, decimal.Decimal) {
				app.Balances.MarkStale()
			},
			OnOrder: func(u model.OrderUpdate) {
				exec.OnOrderUpdate(ctx, u)
			},
		})
		user.Start()
		defer user.Stop()
	}

	go maintain(ctx, app, book)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler.NewRouter(cfg, app),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Rebalancer started", "port", cfg.Server.Port, "dry_run", opts.dryRun, "order_mode", cfg.Engine.OrderMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server listen failed: %w", err)
	}
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	book.Stop()
	engine.Wait()
	logger.Info("Rebalancer exiting")
	return nil
}

// maintain subscribes assets added at runtime and keeps limiter gauges
// current.
func maintain(ctx context.Context, app *service.App, book *market.BookTickerStream) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := book.Subscribe(app.Pairs()); err != nil {
				logger.Warn("Subscribing new pairs failed", "error", err)
			}
			app.Gateway.LimiterStatus()
		}
	}
}

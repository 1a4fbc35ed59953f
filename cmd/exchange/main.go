// Package main runs the exchange API: the matching engine, the REST and
// websocket endpoints, and the settlement commit path.
//
// Without -db the exchange keeps its state in memory, which is only useful
// for local development since sealed orders do not survive a restart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/carbon-dex/internal/adapters/inbound/http"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/fanout"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/memory"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/postgres"
	rediscache "github.com/archon-research/carbon-dex/internal/adapters/outbound/redis"
	snsadapter "github.com/archon-research/carbon-dex/internal/adapters/outbound/sns"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/telemetry"
	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/env"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
	"github.com/archon-research/carbon-dex/internal/ports/outbound"
	"github.com/archon-research/carbon-dex/internal/services/exchange"
	"github.com/archon-research/carbon-dex/internal/services/matching"
	"github.com/archon-research/carbon-dex/internal/services/settlement"
)

const serviceName = "carbon-exchange"

// Build-time variables
var (
	GitCommit string
	BuildTime string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "" {
					GitCommit = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	addr            string
	dbURL           string
	redisAddr       string
	redisPassword   string
	sealingKey      string
	operator        common.Address
	operatorMarkets []string
	tradesTopicARN  string
	ordersTopicARN  string
	otlpEndpoint    string
	environment     string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("exchange", flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address (default :8080)")
	dbURL := fs.String("db", "", "PostgreSQL connection URL; empty keeps state in memory")
	operatorMarkets := fs.String("operator-markets", "", "Comma-separated markets matched only by operator-signed matches")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		addr:           *addr,
		dbURL:          *dbURL,
		redisAddr:      env.Get("REDIS_ADDR", ""),
		redisPassword:  env.Get("REDIS_PASSWORD", ""),
		sealingKey:     env.Get("SEALING_PRIVATE_KEY", ""),
		tradesTopicARN: env.Get("SNS_TRADES_TOPIC_ARN", ""),
		ordersTopicARN: env.Get("SNS_ORDERS_TOPIC_ARN", ""),
		otlpEndpoint:   env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		environment:    env.Get("ENVIRONMENT", "local"),
	}
	if cfg.addr == "" {
		cfg.addr = env.Get("HTTP_ADDR", ":8080")
	}
	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.sealingKey == "" {
		return cliConfig{}, fmt.Errorf("SEALING_PRIVATE_KEY environment variable is required")
	}

	if op := env.Get("OPERATOR_ADDRESS", ""); op != "" {
		if !common.IsHexAddress(op) {
			return cliConfig{}, fmt.Errorf("invalid OPERATOR_ADDRESS %q", op)
		}
		cfg.operator = common.HexToAddress(op)
	}

	markets := *operatorMarkets
	if markets == "" {
		markets = env.Get("OPERATOR_MARKETS", "")
	}
	for _, m := range strings.Split(markets, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.operatorMarkets = append(cfg.operatorMarkets, m)
		}
	}
	if len(cfg.operatorMarkets) > 0 && cfg.operator == (common.Address{}) {
		return cliConfig{}, fmt.Errorf("operator markets require OPERATOR_ADDRESS")
	}
	if cfg.ordersTopicARN != "" && cfg.tradesTopicARN == "" {
		return cliConfig{}, fmt.Errorf("SNS_ORDERS_TOPIC_ARN requires SNS_TRADES_TOPIC_ARN")
	}

	return cfg, nil
}

// stores bundles the persistence adapters so the memory and PostgreSQL
// backends wire up the same way.
type stores struct {
	txm        outbound.TxManager
	orders     outbound.OrderRepository
	trades     outbound.TradeRepository
	positions  outbound.PositionRepository
	marketData outbound.MarketDataRepository
	close      func()
}

func memoryStores() *stores {
	return &stores{
		txm:        memory.NewTxManager(),
		orders:     memory.NewOrderRepository(),
		trades:     memory.NewTradeRepository(),
		positions:  memory.NewPositionRepository(),
		marketData: memory.NewMarketDataRepository(),
		close:      func() {},
	}
}

func postgresStores(ctx context.Context, dbURL string, logger *slog.Logger) (*stores, error) {
	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(dbURL))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	s := &stores{close: pool.Close}

	var errs []error
	var e error
	if s.txm, e = postgres.NewTxManager(pool, logger); e != nil {
		errs = append(errs, e)
	}
	if s.orders, e = postgres.NewOrderRepository(pool, logger); e != nil {
		errs = append(errs, e)
	}
	if s.trades, e = postgres.NewTradeRepository(pool, logger, 0); e != nil {
		errs = append(errs, e)
	}
	if s.positions, e = postgres.NewPositionRepository(pool, logger); e != nil {
		errs = append(errs, e)
	}
	if s.marketData, e = postgres.NewMarketDataRepository(pool, logger); e != nil {
		errs = append(errs, e)
	}
	if err := errors.Join(errs...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating repositories: %w", err)
	}
	return s, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := env.NewLogger(serviceName, slog.LevelInfo)
	slog.SetDefault(logger)
	logger.Info("starting exchange", "commit", GitCommit, "buildTime", BuildTime, "addr", cfg.addr)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: GitCommit,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    serviceName,
		ServiceVersion: GitCommit,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := errors.Join(shutdownTracer(flushCtx), shutdownMetrics(flushCtx)); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := telemetry.NewMetrics(serviceName)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	sealer, err := sealing.NewSealerFromHex(cfg.sealingKey)
	if err != nil {
		return fmt.Errorf("loading sealing key: %w", err)
	}

	var st *stores
	if cfg.dbURL == "" {
		logger.Warn("no database configured, state is kept in memory")
		st = memoryStores()
	} else {
		if st, err = postgresStores(ctx, cfg.dbURL, logger); err != nil {
			return err
		}
		logger.Info("PostgreSQL connected")
	}
	defer st.close()

	var cache outbound.MarketDataCache
	var idem outbound.IdempotencyStore
	if cfg.redisAddr != "" {
		redisCfg := rediscache.ConfigDefaults()
		redisCfg.Addr = cfg.redisAddr
		redisCfg.Password = cfg.redisPassword
		mdCache, err := rediscache.NewMarketDataCache(redisCfg, logger)
		if err != nil {
			return fmt.Errorf("creating Redis cache: %w", err)
		}
		defer mdCache.Close()
		if err := mdCache.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		idemStore, err := rediscache.NewIdempotencyStore(redisCfg, logger)
		if err != nil {
			return fmt.Errorf("creating Redis idempotency store: %w", err)
		}
		defer idemStore.Close()
		cache, idem = mdCache, idemStore
		logger.Info("Redis connected", "addr", cfg.redisAddr)
	} else {
		cache, idem = memory.NewMarketDataCache(), memory.NewIdempotencyStore()
	}

	hub, err := httpadapter.NewStreamHub(httpadapter.StreamHubConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("creating stream hub: %w", err)
	}
	sinks := []outbound.EventSink{hub}
	if cfg.tradesTopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		var snsOptFns []func(*awssns.Options)
		if endpoint := env.Get("AWS_SNS_ENDPOINT", ""); endpoint != "" {
			snsOptFns = append(snsOptFns, func(o *awssns.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		snsCfg := snsadapter.ConfigDefaults()
		snsCfg.Topics = snsadapter.TopicARNs{Trades: cfg.tradesTopicARN, Orders: cfg.ordersTopicARN}
		snsCfg.Logger = logger
		snsSink, err := snsadapter.NewEventSink(awssns.NewFromConfig(awsCfg, snsOptFns...), snsCfg)
		if err != nil {
			return fmt.Errorf("creating SNS event sink: %w", err)
		}
		sinks = append(sinks, snsSink)
		logger.Info("publishing events to SNS", "tradesTopic", cfg.tradesTopicARN)
	}
	events, err := fanout.NewEventSink(sinks...)
	if err != nil {
		return fmt.Errorf("creating event sink: %w", err)
	}
	defer events.Close()

	catalog := entity.DefaultCatalog()
	modes := make(map[string]matching.Mode, len(cfg.operatorMarkets))
	for _, m := range cfg.operatorMarkets {
		modes[m] = matching.ModeOperator
	}
	engine, err := matching.NewEngine(matching.Config{Modes: modes, Logger: logger}, catalog.Symbols())
	if err != nil {
		return fmt.Errorf("creating matching engine: %w", err)
	}

	settler, err := settlement.NewSettler(settlement.SettlerConfig{
		Cache:   cache,
		Metrics: metrics,
		Logger:  logger,
	}, st.txm, st.orders, st.trades, st.positions, st.marketData, events)
	if err != nil {
		return fmt.Errorf("creating settler: %w", err)
	}

	service, err := exchange.NewService(exchange.Config{
		Catalog:  catalog,
		Operator: cfg.operator,
		Metrics:  metrics,
		Logger:   logger,
	}, exchange.Dependencies{
		Engine:      engine,
		Sealer:      sealer,
		Settler:     settler,
		Orders:      st.orders,
		Trades:      st.trades,
		Positions:   st.positions,
		MarketData:  st.marketData,
		Cache:       cache,
		Idempotency: idem,
	})
	if err != nil {
		return fmt.Errorf("creating exchange service: %w", err)
	}
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting exchange service: %w", err)
	}

	handler, err := httpadapter.NewHandler(httpadapter.HandlerConfig{
		Service:    service,
		Catalog:    catalog,
		Stream:     hub,
		SealingKey: sealer.PublicKey().String(),
		Operator:   cfg.operator,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating HTTP handler: %w", err)
	}
	var shuttingDown atomic.Bool
	health := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{Logger: logger}, service, &shuttingDown)
	server := httpadapter.NewServer(httpadapter.ServerConfig{Addr: cfg.addr, Logger: logger}, handler, health)
	serveErr := server.Start()

	logger.Info("exchange ready", "markets", len(catalog.Symbols()), "operatorMarkets", cfg.operatorMarkets)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving HTTP: %w", err)
		}
	}
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	// Stop taking requests before the engine stops, so in-flight submissions finish.
	var errs []error
	if err := server.Shutdown(15 * time.Second); err != nil {
		errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
	}
	if err := service.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping exchange service: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// Package main runs the settlement worker. It consumes trade_settled events
// from SQS, mirrors each trade on the carbon trading contract, and archives
// the settled trade to S3.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/carbon-dex/internal/adapters/inbound/http"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/ethereum"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/postgres"
	s3adapter "github.com/archon-research/carbon-dex/internal/adapters/outbound/s3"
	sqsadapter "github.com/archon-research/carbon-dex/internal/adapters/outbound/sqs"
	"github.com/archon-research/carbon-dex/internal/adapters/outbound/telemetry"
	"github.com/archon-research/carbon-dex/internal/pkg/env"
	"github.com/archon-research/carbon-dex/internal/services/settlement"
)

const serviceName = "carbon-settlement-worker"

// Build-time variables
var GitCommit string

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
	queueURL     string
	dbURL        string
	bucket       string
	rpcURL       string
	contract     common.Address
	chainID      *big.Int
	operatorKey  *ecdsa.PrivateKey
	workers      int
	healthAddr   string
	otlpEndpoint string
	environment  string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("settlement-worker", flag.ContinueOnError)
	queueURL := fs.String("queue", "", "SQS queue URL")
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	workers := fs.Int("workers", 0, "Number of concurrent workers (default 2)")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		queueURL:     *queueURL,
		dbURL:        *dbURL,
		workers:      *workers,
		bucket:       env.Get("S3_BUCKET", ""),
		rpcURL:       env.Get("ETH_RPC_URL", ""),
		healthAddr:   env.Get("HEALTH_ADDR", ":8081"),
		otlpEndpoint: env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		environment:  env.Get("ENVIRONMENT", "local"),
	}
	if cfg.queueURL == "" {
		cfg.queueURL = env.Get("AWS_SQS_QUEUE_URL", "")
	}
	if cfg.queueURL == "" {
		return cliConfig{}, fmt.Errorf("queue URL not provided (use -queue flag or AWS_SQS_QUEUE_URL env var)")
	}
	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.dbURL == "" {
		return cliConfig{}, fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
	}
	if cfg.workers == 0 {
		cfg.workers = env.GetInt("WORKERS", 2)
	}
	if cfg.bucket == "" {
		return cliConfig{}, fmt.Errorf("S3_BUCKET environment variable is required")
	}
	if cfg.rpcURL == "" {
		return cliConfig{}, fmt.Errorf("ETH_RPC_URL environment variable is required")
	}

	contract := env.Get("CONTRACT_ADDRESS", "")
	if !common.IsHexAddress(contract) {
		return cliConfig{}, fmt.Errorf("CONTRACT_ADDRESS must be a hex address, got %q", contract)
	}
	cfg.contract = common.HexToAddress(contract)

	chainID, ok := new(big.Int).SetString(env.Get("CHAIN_ID", ""), 10)
	if !ok || chainID.Sign() <= 0 {
		return cliConfig{}, fmt.Errorf("CHAIN_ID must be a positive integer")
	}
	cfg.chainID = chainID

	rawKey := env.Get("OPERATOR_PRIVATE_KEY", "")
	if rawKey == "" {
		return cliConfig{}, fmt.Errorf("OPERATOR_PRIVATE_KEY environment variable is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(rawKey, "0x"))
	if err != nil {
		return cliConfig{}, fmt.Errorf("invalid OPERATOR_PRIVATE_KEY: %w", err)
	}
	cfg.operatorKey = key

	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := env.NewLogger(serviceName, slog.LevelInfo)
	slog.SetDefault(logger)
	logger.Info("starting settlement worker",
		"commit", GitCommit,
		"queue", cfg.queueURL,
		"bucket", cfg.bucket,
		"contract", cfg.contract.Hex(),
		"chainId", cfg.chainID)

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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
	)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	var sqsOptFns []func(*awssqs.Options)
	if endpoint := env.Get("AWS_SQS_ENDPOINT", ""); endpoint != "" {
		sqsOptFns = append(sqsOptFns, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	consumer, err := sqsadapter.NewConsumer(awsCfg, sqsadapter.Config{QueueURL: cfg.queueURL}, logger, sqsOptFns...)
	if err != nil {
		return fmt.Errorf("creating SQS consumer: %w", err)
	}
	defer consumer.Close()

	var s3OptFns []func(*awss3.Options)
	if endpoint := env.Get("AWS_S3_ENDPOINT", ""); endpoint != "" {
		s3OptFns = append(s3OptFns, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	writer := s3adapter.NewWriter(awsCfg, logger, s3OptFns...)

	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	logger.Info("PostgreSQL connected")

	trades, err := postgres.NewTradeRepository(pool, logger, 0)
	if err != nil {
		return fmt.Errorf("creating trade repository: %w", err)
	}

	ethClient, err := ethclient.DialContext(ctx, cfg.rpcURL)
	if err != nil {
		return fmt.Errorf("connecting to Ethereum node: %w", err)
	}
	defer ethClient.Close()

	gateway, err := ethereum.NewGateway(ethClient, ethereum.Config{
		Contract:    cfg.contract,
		ChainID:     cfg.chainID,
		OperatorKey: cfg.operatorKey,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating contract gateway: %w", err)
	}
	logger.Info("contract gateway ready", "operator", gateway.Operator().Hex())

	worker, err := settlement.NewWorker(settlement.WorkerConfig{
		Bucket:      cfg.bucket,
		Workers:     cfg.workers,
		OperatorKey: cfg.operatorKey,
		Metrics:     metrics,
		Logger:      logger,
	}, consumer, trades, gateway, writer)
	if err != nil {
		return fmt.Errorf("creating settlement worker: %w", err)
	}

	var shuttingDown atomic.Bool
	health := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
		Addr:   cfg.healthAddr,
		Logger: logger,
	}, worker, &shuttingDown)
	health.Start()
	defer func() {
		if err := health.Shutdown(5 * time.Second); err != nil {
			logger.Warn("health server shutdown failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shuttingDown.Store(true)
		worker.Stop()
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("settlement worker failed: %w", err)
	}
	logger.Info("settlement worker stopped")
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"binance-copy-trader/internal/engine"
	"binance-copy-trader/internal/service"
)

const version = "1.0.0"

// replicator 现货/合约引擎的公共面
type replicator interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
	Stop()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("binance-copy-trader %s\n", version)
		return
	}

	// 1. 加载并校验配置，配置错误直接退出
	cfg, err := service.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := service.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	printBanner(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 按市场类型选择引擎
	var eng replicator
	switch cfg.Market {
	case service.MarketFutures:
		futuresEngine, err := engine.NewFuturesEngine(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize futures engine", zap.Error(err))
		}
		eng = futuresEngine
	default:
		eng = engine.NewEngine(cfg, logger)
	}

	// 3. 启动引擎
	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	// 4. 等待信号或引擎自行终止
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down...", zap.String("Signal", sig.String()))
		eng.Stop()
		<-eng.Done()
	case <-eng.Done():
		logger.Warn("Engine terminated on its own")
		eng.Stop()
	}

	logger.Info("Shutdown complete")
}

func printBanner(cfg *service.Config, logger *zap.Logger) {
	logger.Info("========================================")
	logger.Info("Binance Copy Trader", zap.String("Version", version))
	logger.Info("Configuration loaded",
		zap.String("Market", string(cfg.Market)),
		zap.String("BaseURL", cfg.BaseURL),
		zap.Bool("Testnet", cfg.IsTestnet()))

	for _, f := range cfg.EnabledFollowers() {
		logger.Info("Follower enabled",
			zap.String("Name", f.Name), zap.Float64("Scale", f.Scale))
	}
	logger.Info("Trading settings",
		zap.String("OrderType", cfg.Trading.FollowerOrderType),
		zap.Float64("MinQty", cfg.Trading.MinOrderQuantity),
		zap.Float64("MaxQty", cfg.Trading.MaxOrderQuantity))

	if !cfg.IsTestnet() {
		logger.Warn("!!! PRODUCTION ENVIRONMENT: real orders will be placed !!!")
	}
	logger.Info("========================================")
}

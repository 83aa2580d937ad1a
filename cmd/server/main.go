package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/SlpAus/trivia-rewards-backend/api"
	"github.com/SlpAus/trivia-rewards-backend/internal/chain"
	"github.com/SlpAus/trivia-rewards-backend/internal/ledger"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/config"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/database"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/health"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/logging"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/metrics"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/shutdown"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/startup"
	"github.com/SlpAus/trivia-rewards-backend/internal/question"
	"github.com/SlpAus/trivia-rewards-backend/internal/ratelimit"
	"github.com/SlpAus/trivia-rewards-backend/internal/settlement"
	"github.com/SlpAus/trivia-rewards-backend/pkg/lifecycle"
)

const pruneInterval = 10 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}
	log := logging.New("trivia-rewards", cfg.Log.Level)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("服务启动失败")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	// 1. 存储
	db, err := database.OpenDB(cfg.Database, logging.Component(log, "database"))
	if err != nil {
		return err
	}
	var rdb *redis.Client
	if cfg.Database.Redis.Enabled {
		rdb, err = database.OpenRedis(context.Background(), cfg.Database.Redis)
		if err != nil {
			return err
		}
	}
	status := database.NewStatus(rdb != nil, logging.Component(log, "health"))

	if err := startup.InitializeApplication(db, log); err != nil {
		return err
	}

	// 2. 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 3. 业务模块
	questionSvc := question.NewService(question.NewRepository(db), m, logging.Component(log, "question"))
	ledgerSvc := ledger.NewService(ledger.NewRepository(db), rdb, cfg.Leaderboard.CacheTTL, logging.Component(log, "ledger"))

	chainClient, err := newChainClient(cfg.Chain, log)
	if err != nil {
		return err
	}

	graceful := lifecycle.NewManager("graceful", log)
	forceful := lifecycle.NewManager("forceful", log)

	limiter, err := newLimiter(cfg, rdb, status, graceful, log)
	if err != nil {
		return err
	}

	faucetAmount, err := cfg.Faucet.FaucetAmount()
	if err != nil {
		return err
	}
	coord := settlement.NewCoordinator(ledgerSvc, chainClient, limiter, settlement.Options{
		FaucetAmount: faucetAmount,
		FaucetKey:    settlement.FaucetKey(cfg.Faucet.KeyBy),
		ChainTimeout: cfg.Chain.Timeout,
	}, m, logging.Component(log, "settlement"))

	// 4. 健康检查
	checker := health.NewChecker(db, rdb, status, logging.Component(log, "health"))
	checker.OnRedisRestart(startup.RebuildCache(ledgerSvc, log))
	checker.PerformCheck(context.Background())
	if err := graceful.Go("health", func(h *lifecycle.Handle) {
		checker.Run(h, health.DefaultInterval)
	}); err != nil {
		return err
	}

	// 5. HTTP
	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(cfg.Server, api.Deps{
		Questions:  question.NewHandler(questionSvc),
		Ledger:     ledger.NewHandler(ledgerSvc),
		Settlement: settlement.NewHandler(coord),
		Status:     status,
		Metrics:    m,
		Gatherer:   reg,
		Log:        logging.Component(log, "http"),
	})
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	coordinator := shutdown.NewCoordinator(graceful, forceful, shutdown.DefaultTimeouts(), log)
	coordinator.AddCloser("database", func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if rdb != nil {
		coordinator.AddCloser("redis", rdb.Close)
	}

	go func() {
		log.WithField("address", cfg.Server.Address).Info("服务器已准备就绪，开始监听")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP服务器异常退出")
		}
	}()

	coordinator.ListenForSignalsAndShutdown(server)
	return nil
}

// newChainClient 按配置选择链上实现，两种实现之间不会互相回退
func newChainClient(cfg config.ChainConfig, log *logrus.Entry) (chain.Client, error) {
	switch cfg.Mode {
	case config.ChainModeRelay:
		log.WithField("relay", cfg.RelayURL).Info("使用交易中继服务")
		return chain.NewRelayClient(cfg.RelayURL, &http.Client{Timeout: cfg.Timeout}), nil
	case config.ChainModeSimulated:
		log.Warn("链上模式为 simulated，不会产生真实交易")
		return chain.NewSimulated(cfg.SimulatedCooldown), nil
	default:
		return nil, errors.New("未知的链模式: " + string(cfg.Mode))
	}
}

func newLimiter(cfg *config.Config, rdb *redis.Client, status *database.Status, mgr *lifecycle.Manager, log *logrus.Entry) (ratelimit.Limiter, error) {
	if cfg.Faucet.Limiter == "redis" {
		return ratelimit.NewRedis(rdb, cfg.Faucet.Cooldown, status), nil
	}
	mem := ratelimit.NewMemory(cfg.Faucet.Cooldown)
	err := mgr.Go("ratelimit-pruner", func(h *lifecycle.Handle) {
		mem.RunPruner(h, pruneInterval, logging.Component(log, "ratelimit"))
	})
	return mem, err
}

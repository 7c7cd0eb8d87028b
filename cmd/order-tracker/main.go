// OrderTracker 主程序
// 功能：消费交易所订单与成交回报，维护订单生命周期并发布订单事件
// 架构：DDD 分层 + MySQL/PostgreSQL 持久化 + Kafka 收发 + Prometheus 指标
// 用法：order-tracker [-replay-dead-letters]，后者把死信 topic 中的消息发回原 topic，直到收到退出信号
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradingbot/internal/trading/application"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/internal/trading/infrastructure/messaging"
	"github.com/wyfcoding/tradingbot/internal/trading/infrastructure/persistence/mysql"
	"github.com/wyfcoding/tradingbot/internal/trading/interfaces/consumer"
	"github.com/wyfcoding/tradingbot/pkg/config"
	"github.com/wyfcoding/tradingbot/pkg/database"
	"github.com/wyfcoding/tradingbot/pkg/logging"
	"github.com/wyfcoding/tradingbot/pkg/metrics"
	"github.com/wyfcoding/tradingbot/pkg/mq"
)

func main() {
	replay := flag.Bool("replay-dead-letters", false, "republish dead letters to the exchange topic instead of tracking orders")
	flag.Parse()

	// 1. 加载配置
	configPath := "configs/tradingbot/config.toml"
	if p := os.Getenv("APP_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logging.Init(logging.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info(ctx, "Starting OrderTracker",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 初始化 Kafka
	kafkaCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer := mq.NewProducer(mq.NewWriter(kafkaCfg))
	defer producer.Close()

	if *replay {
		replayDeadLetters(ctx, cfg, kafkaCfg, producer)
		return
	}

	tolerance := domain.DefaultOverfillTolerance
	if cfg.Order.OverfillTolerance != "" {
		tolerance, err = decimal.NewFromString(cfg.Order.OverfillTolerance)
		if err != nil || tolerance.IsNegative() {
			logging.Fatal(ctx, "Invalid overfill tolerance", "value", cfg.Order.OverfillTolerance, "error", err)
		}
	}

	// 4. 初始化数据库
	db, err := database.Init(database.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logging.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := mysql.AutoMigrate(db.DB); err != nil {
			logging.Fatal(ctx, "Failed to migrate schema", "error", err)
		}
	}

	// 5. 初始化指标
	m := metrics.New("order_tracker")
	if err := m.Register(nil); err != nil {
		logging.Fatal(ctx, "Failed to register metrics", "error", err)
	}
	if cfg.Metrics.Enabled {
		srv := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Error(context.Background(), "Metrics server shutdown failed", "error", err)
			}
		}()
	}

	// 6. 初始化仓储与应用服务
	tracker := application.NewOrderTracker(
		mysql.NewOrderRepository(db.DB, tolerance),
		application.WithPublisher(messaging.NewKafkaOrderEventPublisher(producer, cfg.Kafka.OrderEventTopic)),
		application.WithMetrics(m),
		application.WithOverfillTolerance(tolerance),
	)

	// 7. 启动交易所回报消费者
	var dlq *mq.DeadLetterQueue
	if cfg.Kafka.DeadLetterTopic != "" {
		dlq = mq.NewDeadLetterQueue(producer, cfg.Kafka.DeadLetterTopic)
	}
	handler := consumer.NewExchangeOrderHandler(tracker, logging.Get())
	c := mq.NewConsumer(mq.NewReader(kafkaCfg, cfg.Kafka.ExchangeTopic), handler, dlq)

	errCh := make(chan error, 1)
	go func() {
		logging.Info(ctx, "Consuming exchange reports", "topic", cfg.Kafka.ExchangeTopic, "group", cfg.Kafka.GroupID)
		errCh <- c.Run(ctx)
	}()

	// 8. 等待退出信号
	select {
	case <-ctx.Done():
		logging.Info(context.Background(), "Shutting down OrderTracker")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error(context.Background(), "Consumer stopped", "error", err)
		}
	}
	stop()

	if err := c.Close(); err != nil {
		logging.Error(context.Background(), "Failed to close consumer", "error", err)
	}
	logging.Info(context.Background(), "OrderTracker exited")
}

// replayDeadLetters 消费死信 topic，把原始消息发回原 topic，收到退出信号后返回。
// 典型场景：成交回报先于订单消息到达，订单登记后重放即可补记成交。
func replayDeadLetters(ctx context.Context, cfg *config.Config, kafkaCfg mq.KafkaConfig, producer *mq.Producer) {
	replayCfg := kafkaCfg
	replayCfg.GroupID = kafkaCfg.GroupID + "-replay"
	c := mq.NewConsumer(mq.NewReader(replayCfg, cfg.Kafka.DeadLetterTopic), mq.NewReplayHandler(producer, nil), nil)
	defer c.Close()

	logging.Info(ctx, "Replaying dead letters", "topic", cfg.Kafka.DeadLetterTopic, "group", replayCfg.GroupID)
	if err := c.Run(ctx); err != nil {
		logging.Error(context.Background(), "Dead letter replay stopped", "error", err)
	}
}

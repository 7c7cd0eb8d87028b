// candle-import 命令行工具
// 功能：把 CSV 格式的历史 K 线导入数据库，并预热 Redis 缓存
// 用法：candle-import -config configs/tradingbot/config.toml -file candles.csv [-policy reject]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyfcoding/tradingbot/internal/trading/application"
	"github.com/wyfcoding/tradingbot/internal/trading/domain"
	"github.com/wyfcoding/tradingbot/internal/trading/infrastructure/importer"
	"github.com/wyfcoding/tradingbot/internal/trading/infrastructure/persistence/mysql"
	rediscache "github.com/wyfcoding/tradingbot/internal/trading/infrastructure/persistence/redis"
	"github.com/wyfcoding/tradingbot/pkg/cache"
	"github.com/wyfcoding/tradingbot/pkg/config"
	"github.com/wyfcoding/tradingbot/pkg/database"
	"github.com/wyfcoding/tradingbot/pkg/logging"
	"github.com/wyfcoding/tradingbot/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/tradingbot/config.toml", "config file path")
	filePath := flag.String("file", "", "CSV file to import")
	policyFlag := flag.String("policy", "", "override import policy: skip or reject")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		flag.Usage()
		os.Exit(2)
	}

	// 1. 加载配置
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *policyFlag != "" {
		cfg.Import.Policy = *policyFlag
	}
	policy, err := application.ParsePolicy(cfg.Import.Policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
		os.Exit(2)
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

	// 3. 初始化数据库
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

	// 4. 初始化 Redis 缓存（可选）
	var candleCache domain.CandleCache
	if cfg.Redis.Enabled {
		client, err := cache.New(ctx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logging.Fatal(ctx, "Failed to initialize Redis", "error", err)
		}
		defer client.Close()
		candleCache = rediscache.NewCandleCache(client,
			rediscache.WithTTL(time.Duration(cfg.Redis.CandleTTLHours)*time.Hour))
	}

	// 5. 初始化指标，一次性任务不启动 HTTP 端点
	m := metrics.New("candle_import")
	if err := m.Register(nil); err != nil {
		logging.Fatal(ctx, "Failed to register metrics", "error", err)
	}

	// 6. 执行导入
	svc := application.NewCandleImportService(
		mysql.NewCandleRepository(db.DB, cfg.Import.BatchSize),
		candleCache,
		m,
		application.ImportConfig{
			Policy:    policy,
			BatchSize: cfg.Import.BatchSize,
			Workers:   cfg.Import.Workers,
		},
	)

	report, err := svc.Import(ctx, importer.NewCSVFile(*filePath))
	if report != nil {
		printReport(report)
	}
	if err != nil {
		logging.Error(ctx, "Candle import failed", "file", *filePath, "error", err)
		os.Exit(1)
	}
}

func printReport(r *application.ImportReport) {
	fmt.Printf("rows=%d imported=%d faults=%d duration=%s\n", r.Rows, r.Imported, len(r.Faults), r.Duration)
	for _, f := range r.Faults {
		fmt.Printf("  row %d: %v\n", f.Row, f.Err)
	}
}

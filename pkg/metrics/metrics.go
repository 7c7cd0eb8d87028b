// Package metrics 提供 Prometheus helper，包含订单跟踪与 K 线导入的业务指标
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/tradingbot/pkg/logging"
)

// Metrics 指标集合
type Metrics struct {
	// 已记录成交数
	TradesRecorded prometheus.Counter
	// 被生命周期规则拒绝的操作，按原因区分
	LifecycleRejections *prometheus.CounterVec
	// 进入终态的订单数，按状态区分
	OrdersTerminal *prometheus.CounterVec
	// 导入成功的 K 线行数
	CandlesImported prometheus.Counter
	// 校验失败的 K 线行数
	CandleRowsRejected prometheus.Counter
	// 单次导入耗时
	ImportDuration prometheus.Histogram
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		TradesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "trades_recorded_total",
			Help:      "Total trades appended to orders",
		}),
		LifecycleRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "lifecycle_rejections_total",
			Help:      "Order mutations rejected by lifecycle rules",
		}, []string{"reason"}),
		OrdersTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "orders_terminal_total",
			Help:      "Orders that reached a terminal status",
		}, []string{"status"}),
		CandlesImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "candles_imported_total",
			Help:      "Candle rows imported",
		}),
		CandleRowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "candle_rows_rejected_total",
			Help:      "Candle rows failing validation",
		}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "candle_import_duration_seconds",
			Help:      "Candle import duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		m.TradesRecorded,
		m.LifecycleRejections,
		m.OrdersTerminal,
		m.CandlesImported,
		m.CandleRowsRejected,
		m.ImportDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logging.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器，返回的 server 由调用方负责关闭
func StartHTTPServer(port int, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info(context.Background(), "Starting Prometheus HTTP server", "addr", srv.Addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(context.Background(), "Prometheus HTTP server error", "error", err)
		}
	}()
	return srv
}

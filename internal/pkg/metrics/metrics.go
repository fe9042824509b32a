package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 业务指标。通过 InitMetrics 注册后使用。
var (
	// ConversionTotal 转换请求总数（按结果分类）。
	ConversionTotal *prometheus.CounterVec

	// ConversionDuration 外部转换调用耗时。
	ConversionDuration prometheus.Histogram

	// LoginTotal 登录请求总数（按结果分类）。
	LoginTotal *prometheus.CounterVec

	// ResetRequestTotal 密码重置请求总数。
	ResetRequestTotal prometheus.Counter

	// ResetRedeemTotal 密码重置兑换总数（按结果分类）。
	ResetRedeemTotal *prometheus.CounterVec

	// RateLimitedTotal 被限流拒绝的请求总数。
	RateLimitedTotal prometheus.Counter

	// SweptResetRecords 被后台清理的过期重置记录数。
	SweptResetRecords prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标。重复调用是安全的。
func InitMetrics() {
	initOnce.Do(func() {
		ConversionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshforge_conversion_total",
			Help: "Total conversion requests by result.",
		}, []string{"result"})

		ConversionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshforge_conversion_duration_seconds",
			Help:    "Duration of external conversion calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		})

		LoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshforge_login_total",
			Help: "Total login attempts by result.",
		}, []string{"result"})

		ResetRequestTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshforge_reset_request_total",
			Help: "Total password reset requests.",
		})

		ResetRedeemTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshforge_reset_redeem_total",
			Help: "Total password reset redemptions by result.",
		}, []string{"result"})

		RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshforge_rate_limited_total",
			Help: "Total requests rejected by the rate limiter.",
		})

		SweptResetRecords = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshforge_swept_reset_records_total",
			Help: "Total expired password reset records removed by the sweeper.",
		})

		prometheus.MustRegister(
			ConversionTotal,
			ConversionDuration,
			LoginTotal,
			ResetRequestTotal,
			ResetRedeemTotal,
			RateLimitedTotal,
			SweptResetRecords,
		)
	})
}

package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总邮件接收与通知投递管线的监控指标。
type Metrics struct {
	registry *prometheus.Registry

	// 入站邮件指标
	MailsReceived   prometheus.Counter
	MailsDropped    *prometheus.CounterVec // reason: parse_error, unregistered, oversize
	MailSizeBytes   prometheus.Histogram
	AttachmentsSeen prometheus.Counter

	// 通知投递指标
	NotificationsDelivered prometheus.Counter
	NotificationsFailed    prometheus.Counter
	DeliveryRetries        prometheus.Counter
	FormatFallbacks        prometheus.Counter
	AttachmentSendFailures prometheus.Counter

	// 注册表指标
	AddressesAssigned prometheus.Counter

	// 轮询监督指标
	PollErrors   prometheus.Counter
	PollRestarts prometheus.Counter
}

// NewMetrics 创建监控指标并注册到独立的 Registry。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		MailsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_mails_received_total",
			Help: "Total number of inbound mails accepted by the SMTP listener",
		}),
		MailsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailgram_mails_dropped_total",
				Help: "Total number of inbound mails dropped without notification",
			},
			[]string{"reason"},
		),
		MailSizeBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailgram_mail_size_bytes",
			Help:    "Size distribution of accepted inbound mails",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		AttachmentsSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_attachments_total",
			Help: "Total number of attachments extracted from inbound mails",
		}),

		NotificationsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_notifications_delivered_total",
			Help: "Total number of mail notifications delivered to subscribers",
		}),
		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_notifications_failed_total",
			Help: "Total number of notifications dropped after exhausting retries",
		}),
		DeliveryRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_delivery_retries_total",
			Help: "Total number of notification delivery retry attempts",
		}),
		FormatFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_format_fallbacks_total",
			Help: "Total number of deliveries that fell back to plain formatting",
		}),
		AttachmentSendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_attachment_send_failures_total",
			Help: "Total number of attachment transfers that failed",
		}),

		AddressesAssigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_addresses_assigned_total",
			Help: "Total number of mailbox addresses handed out",
		}),

		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_poll_errors_total",
			Help: "Total number of Telegram receive loop errors",
		}),
		PollRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailgram_poll_restarts_total",
			Help: "Total number of Telegram receive loop restarts",
		}),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

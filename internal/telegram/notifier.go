package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailgram/bot/internal/domain"
	"mailgram/bot/internal/monitoring"
)

const (
	// deliveryAttempts 单条消息的最大投递尝试次数。
	deliveryAttempts = 3
	// retryInterval 两次尝试之间的固定间隔。
	retryInterval = time.Second
)

// markupChars 覆盖 Telegram 富文本语法的全部特殊字符，
// 去格式化重试时从消息中剔除。
var markupChars = regexp.MustCompile("[*_\\[\\]()~`>#+\\-=|{}.\\\\]")

// Notifier 将解析后的邮件渲染为聊天消息并投递给订阅者，
// 带重试与格式回退逻辑。实现 smtp.Dispatcher。
type Notifier struct {
	transport Transport
	metrics   *monitoring.Metrics
	log       *zap.Logger
	loc       *time.Location

	// retryWait 可在测试中缩短，默认 retryInterval。
	retryWait time.Duration
}

// NewNotifier 创建投递器。时间戳按雅加达时区本地化，
// 时区数据缺失时退回 UTC。
func NewNotifier(transport Transport, metrics *monitoring.Metrics, log *zap.Logger) *Notifier {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		loc = time.UTC
	}

	return &Notifier{
		transport: transport,
		metrics:   metrics,
		log:       log,
		loc:       loc,
		retryWait: retryInterval,
	}
}

// Deliver 投递一封邮件：先发正文通知，再逐个发送附件。
//
// 顺序保证：正文永远先于任何附件发出；附件前发送计数提示。
// 单个附件失败只触发对该附件的道歉消息，不影响其余附件。
// 正文在重试耗尽后返回错误（邮件路径的上游会吞掉并记录）。
func (n *Notifier) Deliver(ctx context.Context, sub domain.Subscriber, mail *domain.ParsedMail) error {
	text := n.render(mail)

	if err := n.Send(ctx, sub, text, SendOptions{DisableWebPagePreview: true}); err != nil {
		n.metrics.NotificationsFailed.Inc()
		return fmt.Errorf("send notification: %w", err)
	}
	n.metrics.NotificationsDelivered.Inc()

	if len(mail.Attachments) == 0 {
		return nil
	}

	advisory := fmt.Sprintf("📎 Wah, ada %d file terlampir nih! Tunggu sebentar ya...", len(mail.Attachments))
	if err := n.Send(ctx, sub, advisory, SendOptions{DisableWebPagePreview: true}); err != nil {
		// 提示消息失败不阻断附件投递
		n.log.Warn("attachment advisory failed",
			zap.Int64("subscriber", int64(sub)),
			zap.Error(err),
		)
	}

	for _, att := range mail.Attachments {
		caption := fmt.Sprintf("📎 File: %s", att.Filename)
		if err := n.transport.SendFile(ctx, sub, att.Filename, att.Content, caption); err != nil {
			n.metrics.AttachmentSendFailures.Inc()
			n.log.Warn("attachment transfer failed",
				zap.Int64("subscriber", int64(sub)),
				zap.String("filename", att.Filename),
				zap.Int64("size", att.Size),
				zap.Error(err),
			)

			apology := fmt.Sprintf("❌ Maaf, gagal mengirim file \"%s\". File mungkin terlalu besar atau tidak didukung.", att.Filename)
			if err := n.Send(ctx, sub, apology, SendOptions{DisableWebPagePreview: true}); err != nil {
				n.log.Warn("attachment apology failed",
					zap.Int64("subscriber", int64(sub)),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// Send 带重试地发送一条文本消息，最多 deliveryAttempts 次尝试。
//
// 格式被拒时后续尝试剥离格式标记并清除 ParseMode；其他失败原样重发。
// 选项的修改只作用于本次调用内的局部副本。
func (n *Notifier) Send(ctx context.Context, chat domain.Subscriber, text string, opts SendOptions) error {
	attemptOpts := opts
	attemptText := text

	var lastErr error
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		err := n.transport.SendText(ctx, chat, attemptText, attemptOpts)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == deliveryAttempts {
			break
		}
		n.metrics.DeliveryRetries.Inc()

		if IsFormatRejected(err) && attemptOpts.ParseMode != "" {
			attemptOpts.ParseMode = ""
			attemptText = StripMarkup(attemptText)
			n.metrics.FormatFallbacks.Inc()
			n.log.Debug("formatting rejected, retrying as plain text",
				zap.Int64("subscriber", int64(chat)),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.retryWait):
		}
	}

	return lastErr
}

// render 生成固定字段顺序的通知文本：发件人、主题、时间、正文。
// 标签保持稳定以便测试。
func (n *Notifier) render(mail *domain.ParsedMail) string {
	var b strings.Builder
	b.WriteString("📬 Email Baru Diterima!\n\n")
	fmt.Fprintf(&b, "👤 Dari: %s\n", mail.Sender)
	fmt.Fprintf(&b, "📌 Subjek: %s\n", mail.Subject)
	fmt.Fprintf(&b, "🕐 Waktu: %s\n\n", mail.ReceivedAt.In(n.loc).Format("02/01/2006 15.04.05"))
	fmt.Fprintf(&b, "📝 Isi Pesan:\n%s", mail.Text)
	return b.String()
}

// StripMarkup 剔除所有富文本特殊字符，用于去格式化重试。
func StripMarkup(text string) string {
	return markupChars.ReplaceAllString(text, "")
}

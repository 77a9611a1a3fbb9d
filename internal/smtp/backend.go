package smtp

import (
	"context"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailgram/bot/internal/config"
	"mailgram/bot/internal/domain"
	"mailgram/bot/internal/monitoring"
	"mailgram/bot/internal/pool"
)

// Directory 提供地址到订阅者的查找，由注册表实现。
type Directory interface {
	ByAddress(addr string) (domain.Subscriber, bool)
}

// Dispatcher 将解析后的邮件投递给订阅者。
type Dispatcher interface {
	Deliver(ctx context.Context, sub domain.Subscriber, mail *domain.ParsedMail) error
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的匿名 SMTP 服务器：
//   - 不实现认证会话，因此不会通告 AUTH 能力
//   - 不校验发件人身份（系统设计如此，无发件人反馈通道）
//   - 收件人无主时静默丢弃，不产生退信
//
// 每个入站连接对应一个独立会话，由 go-smtp 并发调度；
// 会话内的错误只影响该会话本身。
type Backend struct {
	directory  Directory
	dispatcher Dispatcher
	log        *zap.Logger
	metrics    *monitoring.Metrics
	maxBytes   int64
	limiter    *ConnectionLimiter
	workers    *pool.WorkerPool
}

// NewBackend 创建 SMTP Backend。
func NewBackend(directory Directory, dispatcher Dispatcher, maxBytes int64, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	return &Backend{
		directory:  directory,
		dispatcher: dispatcher,
		log:        log,
		metrics:    metrics,
		maxBytes:   maxBytes,
		limiter:    NewConnectionLimiter(defaultMaxConns, defaultConnRate),
	}
}

// SetWorkerPool 指定投递任务所用的协程池。
// 未设置或队列打满时，投递退化为独立 goroutine。
func (b *Backend) SetWorkerPool(workers *pool.WorkerPool) {
	b.workers = workers
}

// NewSession 创建新的 SMTP 会话，连接超限时以 421 拒绝。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

// NewServer 按照配置组装 go-smtp 服务器。
func NewServer(backend *Backend, cfg config.SMTPConfig, mailDomain string) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = mailDomain
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = 50
	return srv
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 服务器对收件人不做归属校验：路由在 Data 阶段按解析出的收件地址
// 查注册表决定，无主邮件静默丢弃。这里只拒绝语法非法的地址。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
//
// 邮件被完整读入内存后解析并异步派发。此边界上的策略是 log-and-drop：
// 解析失败、无主收件人以及下游投递失败都不回传给发件方，
// 避免投递路径的故障阻塞 SMTP 应答。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, s.backend.maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > s.backend.maxBytes {
		s.backend.metrics.MailsDropped.WithLabelValues("oversize").Inc()
		return &gosmtp.SMTPError{
			Code:         552,
			EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
			Message:      "message exceeds maximum size",
		}
	}

	s.backend.metrics.MailsReceived.Inc()
	s.backend.metrics.MailSizeBytes.Observe(float64(len(raw)))

	parsed, err := ParseMail(raw)
	if err != nil {
		// 策略：log-and-drop。协议上没有向不可信发件方反馈的通道。
		s.backend.log.Warn("dropping unparseable message",
			zap.String("from", s.fromAddress),
			zap.Strings("envelope_to", s.recipients),
			zap.Int("size", len(raw)),
			zap.Error(err),
		)
		s.backend.metrics.MailsDropped.WithLabelValues("parse_error").Inc()
		return nil
	}

	sub, ok := s.backend.directory.ByAddress(parsed.Recipient)
	if !ok {
		// 无主地址不是错误：静默丢弃，不通知任何人
		s.backend.log.Debug("mail for unregistered address dropped",
			zap.String("recipient", parsed.Recipient),
			zap.Strings("envelope_to", s.recipients),
		)
		s.backend.metrics.MailsDropped.WithLabelValues("unregistered").Inc()
		return nil
	}

	s.backend.metrics.AttachmentsSeen.Add(float64(len(parsed.Attachments)))

	// 异步派发：投递重试可能耗时数秒，不能占住 SMTP 应答。
	// 投递失败在此边界被吞掉（记录日志后丢弃）。
	mail := parsed
	task := func() {
		if err := s.backend.dispatcher.Deliver(context.Background(), sub, mail); err != nil {
			s.backend.log.Error("notification delivery failed, dropping",
				zap.Int64("subscriber", int64(sub)),
				zap.String("recipient", mail.Recipient),
				zap.Error(err),
			)
		}
	}
	if s.backend.workers == nil || !s.backend.workers.TrySubmit(task) {
		go task()
	}

	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接许可。
func (s *session) Logout() error {
	s.backend.limiter.Release()
	return nil
}

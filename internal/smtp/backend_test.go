package smtp

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mailgram/bot/internal/config"
	"mailgram/bot/internal/domain"
	"mailgram/bot/internal/monitoring"
)

type fakeDirectory struct {
	routes map[string]domain.Subscriber
}

func (d *fakeDirectory) ByAddress(addr string) (domain.Subscriber, bool) {
	sub, ok := d.routes[addr]
	return sub, ok
}

type fakeDispatcher struct {
	mu        sync.Mutex
	delivered []deliveredMail
	err       error
	done      chan struct{}
}

type deliveredMail struct {
	sub  domain.Subscriber
	mail *domain.ParsedMail
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{done: make(chan struct{}, 16)}
}

func (d *fakeDispatcher) Deliver(ctx context.Context, sub domain.Subscriber, mail *domain.ParsedMail) error {
	d.mu.Lock()
	d.delivered = append(d.delivered, deliveredMail{sub: sub, mail: mail})
	d.mu.Unlock()
	d.done <- struct{}{}
	return d.err
}

func (d *fakeDispatcher) waitDelivery(t *testing.T) deliveredMail {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not happen in time")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered[len(d.delivered)-1]
}

func (d *fakeDispatcher) deliveryCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func newTestSession(t *testing.T, directory *fakeDirectory, dispatcher *fakeDispatcher, maxBytes int64) gosmtp.Session {
	t.Helper()
	backend := NewBackend(directory, dispatcher, maxBytes, monitoring.NewMetrics(), zap.NewNop())
	sess, err := backend.NewSession(nil)
	require.NoError(t, err)
	return sess
}

func TestSessionRcpt(t *testing.T) {
	t.Run("接受合法地址", func(t *testing.T) {
		sess := newTestSession(t, &fakeDirectory{}, newFakeDispatcher(), 1<<20)
		assert.NoError(t, sess.Rcpt("abc@example.org", nil))
	})

	t.Run("拒绝无@的地址", func(t *testing.T) {
		sess := newTestSession(t, &fakeDirectory{}, newFakeDispatcher(), 1<<20)

		err := sess.Rcpt("not-an-address", nil)
		require.Error(t, err)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 501, smtpErr.Code)
	})
}

func TestSessionData(t *testing.T) {
	raw := mailFrom(
		"From: Jane <jane@example.com>",
		"To: <abc123@example.org>",
		"Subject: Hello",
		"",
		"Hi there",
	)

	t.Run("已注册地址的邮件被投递", func(t *testing.T) {
		directory := &fakeDirectory{routes: map[string]domain.Subscriber{
			"abc123@example.org": 42,
		}}
		dispatcher := newFakeDispatcher()
		sess := newTestSession(t, directory, dispatcher, 1<<20)

		require.NoError(t, sess.Mail("jane@example.com", nil))
		require.NoError(t, sess.Rcpt("abc123@example.org", nil))
		require.NoError(t, sess.Data(bytes.NewReader(raw)))

		got := dispatcher.waitDelivery(t)
		assert.Equal(t, domain.Subscriber(42), got.sub)
		assert.Equal(t, "Jane", got.mail.Sender)
		assert.Equal(t, "Hello", got.mail.Subject)
		assert.Equal(t, "Hi there", got.mail.Text)
	})

	t.Run("无主地址静默丢弃", func(t *testing.T) {
		dispatcher := newFakeDispatcher()
		sess := newTestSession(t, &fakeDirectory{routes: map[string]domain.Subscriber{}}, dispatcher, 1<<20)

		require.NoError(t, sess.Data(bytes.NewReader(raw)))

		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, dispatcher.deliveryCount())
	})

	t.Run("丢弃日志携带信封收件人", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		backend := NewBackend(&fakeDirectory{routes: map[string]domain.Subscriber{}},
			newFakeDispatcher(), 1<<20, monitoring.NewMetrics(), zap.New(core))
		sess, err := backend.NewSession(nil)
		require.NoError(t, err)

		require.NoError(t, sess.Mail("jane@example.com", nil))
		require.NoError(t, sess.Rcpt("abc123@example.org", nil))
		require.NoError(t, sess.Data(bytes.NewReader(raw)))

		entries := logs.FilterMessage("mail for unregistered address dropped").All()
		require.Len(t, entries, 1)
		assert.Equal(t, []interface{}{"abc123@example.org"},
			entries[0].ContextMap()["envelope_to"])
	})

	t.Run("解析失败丢弃且SMTP应答成功", func(t *testing.T) {
		dispatcher := newFakeDispatcher()
		sess := newTestSession(t, &fakeDirectory{}, dispatcher, 1<<20)

		err := sess.Data(strings.NewReader("completely broken\n"))
		assert.NoError(t, err)
		assert.Zero(t, dispatcher.deliveryCount())
	})

	t.Run("超过大小上限返回552", func(t *testing.T) {
		dispatcher := newFakeDispatcher()
		sess := newTestSession(t, &fakeDirectory{}, dispatcher, 64)

		big := append(raw, bytes.Repeat([]byte("x"), 256)...)
		err := sess.Data(bytes.NewReader(big))
		require.Error(t, err)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 552, smtpErr.Code)
		assert.Zero(t, dispatcher.deliveryCount())
	})

	t.Run("投递失败不回传给发件方", func(t *testing.T) {
		directory := &fakeDirectory{routes: map[string]domain.Subscriber{
			"abc123@example.org": 42,
		}}
		dispatcher := newFakeDispatcher()
		dispatcher.err = errors.New("telegram unavailable")
		sess := newTestSession(t, directory, dispatcher, 1<<20)

		assert.NoError(t, sess.Data(bytes.NewReader(raw)))
		dispatcher.waitDelivery(t)
	})
}

func TestNewServer(t *testing.T) {
	backend := NewBackend(&fakeDirectory{}, newFakeDispatcher(), 25<<20, monitoring.NewMetrics(), zap.NewNop())
	srv := NewServer(backend, config.SMTPConfig{
		BindAddr:        ":2525",
		MaxMessageBytes: 25 << 20,
	}, "example.org")

	assert.Equal(t, ":2525", srv.Addr)
	assert.Equal(t, "example.org", srv.Domain)
	assert.Equal(t, int64(25<<20), srv.MaxMessageBytes)
}

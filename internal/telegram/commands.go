package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mailgram/bot/internal/domain"
	"mailgram/bot/internal/monitoring"
	"mailgram/bot/internal/registry"
)

// CommandHandler 将订阅者输入的命令映射为注册表操作并回发确认消息。
// 确认消息的投递失败以道歉消息的形式呈现给订阅者，绝不暴露原始错误。
type CommandHandler struct {
	registry *registry.Registry
	notifier *Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewCommandHandler 创建命令处理器。
func NewCommandHandler(reg *registry.Registry, notifier *Notifier, metrics *monitoring.Metrics, log *zap.Logger) *CommandHandler {
	return &CommandHandler{
		registry: reg,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

// HandleUpdate 处理一条更新。非命令消息直接忽略。
// 不同订阅者的命令可以并发进入，注册表保证映射操作的原子性。
func (h *CommandHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	chat := domain.Subscriber(update.Message.Chat.ID)
	name := "teman"
	if update.Message.From != nil && update.Message.From.FirstName != "" {
		name = update.Message.From.FirstName
	}

	switch update.Message.Command() {
	case "start":
		h.handleStart(ctx, chat, name)
	case "newmail":
		h.handleNewMail(ctx, chat, name)
	case "mymail":
		h.handleMyMail(ctx, chat, name)
	case "help":
		h.handleHelp(ctx, chat, name)
	}
}

func (h *CommandHandler) handleStart(ctx context.Context, chat domain.Subscriber, name string) {
	text := fmt.Sprintf(
		"Hai %s! 👋\n\n"+
			"Selamat datang di layanan Email Temporary! Aku bakal bantu kamu buat bikin email sementara yang bisa kamu pakai dimana aja.\n\n"+
			"Ini nih perintah yang bisa kamu gunakan:\n\n"+
			"📧 /newmail - Bikin email baru\n"+
			"📨 /mymail - Lihat email kamu sekarang\n"+
			"❓ /help - Kalau kamu butuh bantuan\n\n"+
			"Mau langsung bikin email? Ketik /newmail aja! 😊",
		name,
	)
	if err := h.notifier.Send(ctx, chat, text, SendOptions{DisableWebPagePreview: true}); err != nil {
		h.log.Warn("start reply failed", zap.Int64("subscriber", int64(chat)), zap.Error(err))
	}
}

func (h *CommandHandler) handleNewMail(ctx context.Context, chat domain.Subscriber, name string) {
	address := h.registry.Assign(chat)
	h.metrics.AddressesAssigned.Inc()
	h.log.Info("mailbox address assigned", zap.Int64("subscriber", int64(chat)))

	text := fmt.Sprintf(
		"✨ Siap %s! Aku udah bikin email baru buat kamu:\n\n"+
			"📧 `%s`\n\n"+
			"Email ini bisa langsung kamu pakai. Tenang aja, nanti kalau ada email masuk, aku langsung kabarin kamu disini ya! 😉\n\n"+
			"Oh iya, kalau butuh email baru lagi, tinggal ketik /newmail aja ya!",
		name, address,
	)
	if err := h.notifier.Send(ctx, chat, text, SendOptions{ParseMode: tgbotapi.ModeMarkdown, DisableWebPagePreview: true}); err != nil {
		h.log.Warn("newmail reply failed", zap.Int64("subscriber", int64(chat)), zap.Error(err))
		h.apologize(ctx, chat, fmt.Sprintf("Maaf %s, ada masalah saat membuat email baru. Coba lagi dalam beberapa saat ya!", name))
	}
}

func (h *CommandHandler) handleMyMail(ctx context.Context, chat domain.Subscriber, name string) {
	address, ok := h.registry.BySubscriber(chat)

	var text string
	var opts SendOptions
	if ok {
		text = fmt.Sprintf(
			"Hai %s! 👋\n\n"+
				"Ini email kamu yang aktif sekarang:\n\n"+
				"📧 `%s`\n\n"+
				"Email ini masih aktif dan siap dipakai ya! 😊",
			name, address,
		)
		opts = SendOptions{ParseMode: tgbotapi.ModeMarkdown, DisableWebPagePreview: true}
	} else {
		text = fmt.Sprintf(
			"Hai %s! Sepertinya kamu belum punya email nih... 🤔\n\n"+
				"Mau bikin email baru? Gampang kok!\n"+
				"Tinggal ketik /newmail aja ya! 😊",
			name,
		)
		opts = SendOptions{DisableWebPagePreview: true}
	}

	if err := h.notifier.Send(ctx, chat, text, opts); err != nil {
		h.log.Warn("mymail reply failed", zap.Int64("subscriber", int64(chat)), zap.Error(err))
		h.apologize(ctx, chat, fmt.Sprintf("Maaf %s, ada masalah saat mengecek email kamu. Coba lagi dalam beberapa saat ya!", name))
	}
}

func (h *CommandHandler) handleHelp(ctx context.Context, chat domain.Subscriber, name string) {
	text := fmt.Sprintf(
		"Hai %s! 👋\n\n"+
			"Tenang, aku disini buat bantu kamu! 😊\n\n"+
			"🎯 Ini nih yang bisa kamu lakukan:\n\n"+
			"📧 /newmail - Bikin email baru\n"+
			"📨 /mymail - Lihat email kamu sekarang\n"+
			"❓ /help - Buat lihat bantuan ini lagi\n\n"+
			"📝 Cara pakainya gampang banget:\n"+
			"1. Ketik /newmail buat bikin email\n"+
			"2. Pakai email itu dimana aja yang kamu mau\n"+
			"3. Nanti kalau ada email masuk, aku langsung kabarin kamu disini\n"+
			"4. Mau ganti email? Ketik /newmail lagi aja!\n\n"+
			"Ada yang masih bingung? Jangan ragu buat tanya ke aku ya! 😊",
		name,
	)
	if err := h.notifier.Send(ctx, chat, text, SendOptions{DisableWebPagePreview: true}); err != nil {
		h.log.Warn("help reply failed", zap.Int64("subscriber", int64(chat)), zap.Error(err))
		h.apologize(ctx, chat, fmt.Sprintf("Maaf %s, ada masalah saat menampilkan bantuan. Coba lagi dalam beberapa saat ya!", name))
	}
}

// apologize 尽力发送道歉消息，失败只记录日志。
func (h *CommandHandler) apologize(ctx context.Context, chat domain.Subscriber, text string) {
	if err := h.notifier.Send(ctx, chat, text, SendOptions{DisableWebPagePreview: true}); err != nil {
		h.log.Warn("apology failed", zap.Int64("subscriber", int64(chat)), zap.Error(err))
	}
}

package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mailgram/bot/internal/domain"
)

// SendOptions 控制单条文本消息的渲染方式。
// 每次发送尝试都应使用本地副本，形成回退时不得回写调用方的选项。
type SendOptions struct {
	ParseMode             string
	DisableWebPagePreview bool
}

// Transport 抽象消息平台的投递能力。核心只依赖这两个操作
// 以及“格式被拒”与其他投递失败的区分（见 IsFormatRejected）。
type Transport interface {
	SendText(ctx context.Context, chat domain.Subscriber, text string, opts SendOptions) error
	SendFile(ctx context.Context, chat domain.Subscriber, filename string, content []byte, caption string) error
}

// Bot 基于 Telegram Bot API 实现 Transport，并承担长轮询取数。
type Bot struct {
	api         *tgbotapi.BotAPI
	log         *zap.Logger
	offset      int
	pollTimeout int
}

// NewBot 连接 Bot API 并验证令牌。
func NewBot(token string, pollTimeout int, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))

	return &Bot{
		api:         api,
		log:         log,
		pollTimeout: pollTimeout,
	}, nil
}

// SendText 发送一条文本消息。Bot API 客户端本身不感知 ctx，
// 这里只在发送前检查取消状态。
func (b *Bot) SendText(ctx context.Context, chat domain.Subscriber, text string, opts SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(int64(chat), text)
	msg.ParseMode = opts.ParseMode
	msg.DisableWebPagePreview = opts.DisableWebPagePreview
	_, err := b.api.Send(msg)
	return err
}

// SendFile 以文件形式发送附件内容。
func (b *Bot) SendFile(ctx context.Context, chat domain.Subscriber, filename string, content []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(int64(chat), tgbotapi.FileBytes{
		Name:  filename,
		Bytes: content,
	})
	doc.Caption = caption
	_, err := b.api.Send(doc)
	return err
}

// FetchUpdates 执行一轮长轮询并推进偏移量。
func (b *Bot) FetchUpdates(ctx context.Context) ([]tgbotapi.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := tgbotapi.NewUpdate(b.offset)
	u.Timeout = b.pollTimeout
	u.AllowedUpdates = []string{"message"}

	updates, err := b.api.GetUpdates(u)
	if err != nil {
		return nil, err
	}

	for _, update := range updates {
		if update.UpdateID >= b.offset {
			b.offset = update.UpdateID + 1
		}
	}
	return updates, nil
}

// Restart 重建与 Bot API 的会话状态。探测失败说明接收循环无法恢复。
func (b *Bot) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := b.api.GetMe(); err != nil {
		return err
	}
	b.log.Info("telegram receive loop restarted")
	return nil
}

// IsFormatRejected 判断投递失败是否由消息格式标记被平台拒绝导致。
// 这类失败应触发去格式化重试，而非原样重发。
func IsFormatRejected(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities")
	}
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

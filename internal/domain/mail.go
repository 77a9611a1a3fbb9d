package domain

import "time"

// Subscriber 标识一个 Telegram 聊天会话，由消息平台分配，本系统不创建也不销毁。
type Subscriber int64

// 解析邮件时可选字段缺失后的回退文案（面向印尼语用户）。
const (
	FallbackSender  = "Tidak diketahui"
	FallbackSubject = "(Tidak ada subjek)"
	FallbackBody    = "(Tidak ada isi pesan)"
)

// ParsedMail 表示一封入站邮件解码后的瞬态记录。
// 仅在一次投递过程中存活，不做任何持久化。
type ParsedMail struct {
	// Recipient 为 To 头中的首个地址，已归一化为小写。
	Recipient string

	// Sender 为展示用发件人：显示名优先，其次原始地址，最后回退文案。
	Sender  string
	Subject string
	Text    string

	// ReceivedAt 取 Date 头；头缺失或非法时为接收时刻。
	ReceivedAt time.Time

	// Attachments 保持邮件中出现的顺序。
	Attachments []*Attachment
}

// Attachment 表示一个邮件附件。
type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

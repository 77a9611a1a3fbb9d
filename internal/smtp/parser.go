package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/k3a/html2text"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"mailgram/bot/internal/domain"
)

// rawMail 是 MIME 解码的中间结果，在组装 ParsedMail 前保留 HTML 部分。
type rawMail struct {
	text        string
	html        string
	attachments []*domain.Attachment
}

// ParseMail 将原始邮件字节流解码为 ParsedMail。
//
// 只有结构性错误（无法读取邮件头、multipart 缺少 boundary 等）返回 error；
// 可选字段缺失一律回退：发件人显示名 → 原始地址 → 固定文案，
// 主题与正文缺失使用占位文案，Date 头缺失取当前时间。
// 正文只有 HTML 部分时转换为纯文本。
func ParseMail(raw []byte) (*domain.ParsedMail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	body := &rawMail{attachments: make([]*domain.Attachment, 0)}

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 没有 Content-Type 或解析失败，当作纯文本处理
		data, _ := io.ReadAll(msg.Body)
		body.text = string(data)
	} else if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message without boundary")
		}
		if err := parseMultipart(multipart.NewReader(msg.Body, boundary), body); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
	} else {
		data, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		if strings.HasPrefix(mediaType, "text/html") {
			body.html = data
		} else {
			body.text = data
		}
	}

	text := strings.TrimSpace(body.text)
	if text == "" && body.html != "" {
		text = strings.TrimSpace(html2text.HTML2Text(body.html))
	}
	if text == "" {
		text = domain.FallbackBody
	}

	subject := strings.TrimSpace(decodeHeader(msg.Header.Get("Subject")))
	if subject == "" {
		subject = domain.FallbackSubject
	}

	receivedAt, err := msg.Header.Date()
	if err != nil {
		receivedAt = time.Now()
	}

	return &domain.ParsedMail{
		Recipient:   parseRecipient(msg.Header),
		Sender:      senderDisplay(msg.Header.Get("From")),
		Subject:     subject,
		Text:        text,
		ReceivedAt:  receivedAt,
		Attachments: body.attachments,
	}, nil
}

// parseRecipient 提取 To 头中的首个地址并归一化；头无法解析时退回原始值。
func parseRecipient(header mail.Header) string {
	if addrs, err := header.AddressList("To"); err == nil && len(addrs) > 0 {
		return domain.NormalizeAddress(addrs[0].Address)
	}
	return domain.NormalizeAddress(decodeHeader(header.Get("To")))
}

// senderDisplay 生成展示用发件人：显示名 → 原始地址 → 回退文案。
func senderDisplay(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return domain.FallbackSender
	}

	decoded := decodeHeader(from)
	if addr, err := mail.ParseAddress(decoded); err == nil {
		if name := strings.TrimSpace(addr.Name); name != "" {
			return name
		}
		if addr.Address != "" {
			return addr.Address
		}
	}
	// 头存在但不是规范的地址格式，原样展示
	return decoded
}

// parseMultipart 递归解析多部分邮件。
func parseMultipart(mr *multipart.Reader, out *rawMail) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		// 检查是否是附件
		disposition := part.Header.Get("Content-Disposition")
		if disposition != "" {
			dispType, dispParams, _ := mime.ParseMediaType(disposition)
			if dispType == "attachment" || (dispType == "inline" && dispParams["filename"] != "") {
				filename := dispParams["filename"]
				if filename == "" {
					filename = params["name"]
				}
				if filename == "" {
					filename = "unnamed"
				}
				filename = decodeHeader(filename)

				content, err := io.ReadAll(part)
				if err != nil {
					continue
				}

				// 附件内容多为 base64 编码
				if strings.EqualFold(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")), "base64") {
					if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(content))); err == nil {
						content = decoded
					}
				}

				out.attachments = append(out.attachments, &domain.Attachment{
					ID:          uuid.NewString(),
					Filename:    filename,
					ContentType: mediaType,
					Size:        int64(len(content)),
					Content:     content,
				})
				continue
			}
		}

		// 处理嵌套的 multipart
		if strings.HasPrefix(mediaType, "multipart/") {
			if boundary := params["boundary"]; boundary != "" {
				if err := parseMultipart(multipart.NewReader(part, boundary), out); err != nil {
					return err
				}
			}
			continue
		}

		// 处理文本内容
		data, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "text/html") {
			if out.html == "" {
				out.html = data
			}
		} else if strings.HasPrefix(mediaType, "text/plain") {
			if out.text == "" {
				out.text = data
			}
		}
	}

	return nil
}

// decodeBody 根据传输编码与字符集解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader
	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	default:
		// 7bit/8bit/binary/未知编码均直接读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := charsetEncoding(charset); enc != nil {
			if converted, _, err := transform.Bytes(enc.NewDecoder(), body); err == nil {
				body = converted
			}
		}
	}

	return string(body), nil
}

// charsetEncoding 根据字符集名称返回编码器
func charsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}

// decodeHeader 解码 RFC 2047 编码的邮件头。
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

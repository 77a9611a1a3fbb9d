package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// TelegramConfig 定义 Telegram Bot 的接入配置
type TelegramConfig struct {
	Token       string // Bot API 令牌（必填）
	PollTimeout int    // 长轮询超时秒数，默认 10
}

// MailConfig 定义临时邮箱的业务配置
type MailConfig struct {
	Domain string // 生成邮箱地址所用的邮件域名（必填），始终小写
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	MaxMessageBytes int64  // 单封邮件大小上限，默认 25 MiB
}

// CloudflareConfig 定义 Cloudflare DNS 配置（域名入站路由所必需）。
// API 令牌走 Bearer 认证，已覆盖 DNS 记录读写所需的全部权限。
type CloudflareConfig struct {
	APIToken string // API 令牌（必填）
	ZoneID   string // 区域 ID（必填）
}

// OpsConfig 定义运维 HTTP 端点（健康检查与指标）的监听配置
type OpsConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到标准输出
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Telegram   TelegramConfig
	Mail       MailConfig
	SMTP       SMTPConfig
	Cloudflare CloudflareConfig
	Ops        OpsConfig
	Log        LogConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILGRAM_
// 例如: MAILGRAM_TELEGRAM_TOKEN, MAILGRAM_MAIL_DOMAIN
//
// 必填项缺失时返回错误，进程不应继续启动。
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mailgram")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("telegram.poll_timeout", 10)
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.max_message_bytes", int64(25<<20))
	v.SetDefault("ops.host", "0.0.0.0")
	v.SetDefault("ops.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:       v.GetString("telegram.token"),
			PollTimeout: v.GetInt("telegram.poll_timeout"),
		},
		Mail: MailConfig{
			Domain: strings.ToLower(strings.TrimSpace(v.GetString("mail.domain"))),
		},
		SMTP: SMTPConfig{
			BindAddr:        v.GetString("smtp.bind_addr"),
			MaxMessageBytes: v.GetInt64("smtp.max_message_bytes"),
		},
		Cloudflare: CloudflareConfig{
			APIToken: v.GetString("cloudflare.api_token"),
			ZoneID:   v.GetString("cloudflare.zone_id"),
		},
		Ops: OpsConfig{
			Host: v.GetString("ops.host"),
			Port: v.GetInt("ops.port"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.SMTP.MaxMessageBytes <= 0 {
		cfg.SMTP.MaxMessageBytes = 25 << 20
	}
	if cfg.Telegram.PollTimeout <= 0 {
		cfg.Telegram.PollTimeout = 10
	}

	return cfg, nil
}

// validate 检查必填配置项，缺失任何一项都视为致命错误。
func (c *Config) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"MAILGRAM_TELEGRAM_TOKEN", c.Telegram.Token},
		{"MAILGRAM_MAIL_DOMAIN", c.Mail.Domain},
		{"MAILGRAM_CLOUDFLARE_API_TOKEN", c.Cloudflare.APIToken},
		{"MAILGRAM_CLOUDFLARE_ZONE_ID", c.Cloudflare.ZoneID},
	}

	var missing []string
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			missing = append(missing, item.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if strings.Contains(c.Mail.Domain, "@") {
		return fmt.Errorf("mail.domain must be a bare domain, got %q", c.Mail.Domain)
	}

	return nil
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"MAILGRAM_TELEGRAM_TOKEN",
	"MAILGRAM_TELEGRAM_POLL_TIMEOUT",
	"MAILGRAM_MAIL_DOMAIN",
	"MAILGRAM_SMTP_BIND_ADDR",
	"MAILGRAM_SMTP_MAX_MESSAGE_BYTES",
	"MAILGRAM_CLOUDFLARE_API_TOKEN",
	"MAILGRAM_CLOUDFLARE_ZONE_ID",
	"MAILGRAM_OPS_HOST",
	"MAILGRAM_OPS_PORT",
	"MAILGRAM_LOG_LEVEL",
	"MAILGRAM_LOG_DEVELOPMENT",
}

// setRequiredEnv 清空全部相关环境变量后设置必填项，测试结束自动恢复。
func setRequiredEnv(t *testing.T) {
	t.Helper()

	for _, key := range envKeys {
		// t.Setenv 自动在测试结束后恢复
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	t.Setenv("MAILGRAM_TELEGRAM_TOKEN", "123456:test-token")
	t.Setenv("MAILGRAM_MAIL_DOMAIN", "Mail.Test")
	t.Setenv("MAILGRAM_CLOUDFLARE_API_TOKEN", "cf-token")
	t.Setenv("MAILGRAM_CLOUDFLARE_ZONE_ID", "zone-1")
}

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, ":25", cfg.SMTP.BindAddr)
		assert.Equal(t, int64(25<<20), cfg.SMTP.MaxMessageBytes)
		assert.Equal(t, 10, cfg.Telegram.PollTimeout)
		assert.Equal(t, "0.0.0.0", cfg.Ops.Host)
		assert.Equal(t, 8080, cfg.Ops.Port)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)

		// 域名归一化为小写
		assert.Equal(t, "mail.test", cfg.Mail.Domain)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MAILGRAM_SMTP_BIND_ADDR", ":2525")
		t.Setenv("MAILGRAM_SMTP_MAX_MESSAGE_BYTES", "1048576")
		t.Setenv("MAILGRAM_LOG_LEVEL", "debug")
		t.Setenv("MAILGRAM_LOG_DEVELOPMENT", "true")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":2525", cfg.SMTP.BindAddr)
		assert.Equal(t, int64(1<<20), cfg.SMTP.MaxMessageBytes)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.Development)
	})

	t.Run("缺少必填项时报错", func(t *testing.T) {
		setRequiredEnv(t)
		os.Unsetenv("MAILGRAM_TELEGRAM_TOKEN")
		os.Unsetenv("MAILGRAM_CLOUDFLARE_ZONE_ID")

		cfg, err := Load()
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "MAILGRAM_TELEGRAM_TOKEN")
		assert.Contains(t, err.Error(), "MAILGRAM_CLOUDFLARE_ZONE_ID")
	})

	t.Run("Cloudflare仅要求令牌与区域ID", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "cf-token", cfg.Cloudflare.APIToken)
		assert.Equal(t, "zone-1", cfg.Cloudflare.ZoneID)
	})

	t.Run("域名携带@时报错", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MAILGRAM_MAIL_DOMAIN", "user@mail.test")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bare domain")
	})
}

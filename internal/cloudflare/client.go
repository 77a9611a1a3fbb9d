package cloudflare

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"mailgram/bot/internal/config"
)

const (
	apiBaseURL = "https://api.cloudflare.com/client/v4"
	ipEchoURL  = "https://api.ipify.org"

	// propagationInterval / propagationAttempts 约束一次性的就绪轮询：
	// 每 30 秒检查一次，最多 10 次，失败即启动中止。
	propagationInterval = 30 * time.Second
	propagationAttempts = 10

	mxPriority = 10
)

// PropagationStatus 汇报 DNS 记录的可见性。
type PropagationStatus struct {
	MXReady  bool
	SPFReady bool
}

// Client 负责把邮件域名的入站路由配置到 Cloudflare，
// 并确认记录已在公共 DNS 中可见。仅在启动阶段使用。
type Client struct {
	http *resty.Client
	// ipHTTP 无凭据：公网 IP 探测面向第三方回声服务，
	// 绝不能携带 Cloudflare 令牌。
	ipHTTP *resty.Client
	zoneID string
	log    *zap.Logger

	// 测试中可替换的解析函数，默认走系统解析器
	lookupMX  func(ctx context.Context, name string) ([]*net.MX, error)
	lookupTXT func(ctx context.Context, name string) ([]string, error)

	ipURL    string
	interval time.Duration
	attempts int
}

// NewClient 创建 Cloudflare API 客户端。
func NewClient(cfg config.CloudflareConfig, log *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(apiBaseURL).
		SetAuthToken(cfg.APIToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)

	resolver := net.DefaultResolver

	return &Client{
		http:      httpClient,
		ipHTTP:    resty.New().SetTimeout(30 * time.Second),
		zoneID:    cfg.ZoneID,
		log:       log,
		lookupMX:  resolver.LookupMX,
		lookupTXT: resolver.LookupTXT,
		ipURL:     ipEchoURL,
		interval:  propagationInterval,
		attempts:  propagationAttempts,
	}
}

type dnsRecord struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl,omitempty"`
	Priority *int   `json:"priority,omitempty"`
	Proxied  *bool  `json:"proxied,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type listResponse struct {
	Success bool        `json:"success"`
	Errors  []apiError  `json:"errors"`
	Result  []dnsRecord `json:"result"`
}

type writeResponse struct {
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
	Result  dnsRecord  `json:"result"`
}

// EnsureRouting 创建或更新邮件路由所需的 DNS 记录：
// 指向服务器的 A 记录、指向该主机的 MX 记录，以及 SPF TXT 记录。
// 任何一条记录写入失败都返回错误（启动阶段视为致命）。
func (c *Client) EnsureRouting(ctx context.Context, mailDomain, serverIP string) error {
	mailHost := "mail." + mailDomain
	priority := mxPriority
	proxied := false

	records := []dnsRecord{
		{Type: "A", Name: mailHost, Content: serverIP, TTL: 1, Proxied: &proxied},
		{Type: "MX", Name: mailDomain, Content: mailHost, TTL: 1, Priority: &priority},
		{Type: "TXT", Name: mailDomain, Content: fmt.Sprintf("v=spf1 a mx ip4:%s ~all", serverIP), TTL: 1},
	}

	for _, record := range records {
		if err := c.upsertRecord(ctx, record); err != nil {
			return fmt.Errorf("configure %s record for %s: %w", record.Type, record.Name, err)
		}
		c.log.Info("dns record configured",
			zap.String("type", record.Type),
			zap.String("name", record.Name),
		)
	}
	return nil
}

// upsertRecord 按 type+name 查找既有记录，存在则更新，否则创建。
func (c *Client) upsertRecord(ctx context.Context, record dnsRecord) error {
	var listed listResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"type": record.Type,
			"name": record.Name,
		}).
		SetResult(&listed).
		SetError(&listed).
		Get(fmt.Sprintf("/zones/%s/dns_records", c.zoneID))
	if err != nil {
		return err
	}
	if resp.IsError() || !listed.Success {
		return fmt.Errorf("list dns records: %s", apiErrorString(resp.StatusCode(), listed.Errors))
	}

	var written writeResponse
	request := c.http.R().SetContext(ctx).SetBody(record).SetResult(&written).SetError(&written)

	if len(listed.Result) > 0 {
		resp, err = request.Put(fmt.Sprintf("/zones/%s/dns_records/%s", c.zoneID, listed.Result[0].ID))
	} else {
		resp, err = request.Post(fmt.Sprintf("/zones/%s/dns_records", c.zoneID))
	}
	if err != nil {
		return err
	}
	if resp.IsError() || !written.Success {
		return fmt.Errorf("write dns record: %s", apiErrorString(resp.StatusCode(), written.Errors))
	}
	return nil
}

// CheckPropagation 通过公共 DNS 查询确认 MX 与 SPF 记录已可见。
// 解析失败视为尚未就绪，不作为错误上抛。
func (c *Client) CheckPropagation(ctx context.Context, mailDomain string) PropagationStatus {
	status := PropagationStatus{}
	mailHost := "mail." + mailDomain

	if mxs, err := c.lookupMX(ctx, mailDomain); err == nil {
		for _, mx := range mxs {
			if strings.EqualFold(strings.TrimSuffix(mx.Host, "."), mailHost) {
				status.MXReady = true
				break
			}
		}
	}

	if txts, err := c.lookupTXT(ctx, mailDomain); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(strings.TrimSpace(txt), "v=spf1") {
				status.SPFReady = true
				break
			}
		}
	}

	return status
}

// WaitReady 轮询传播状态直到 MX 与 SPF 均可见。
// 固定间隔、有限次数，ctx 取消时立即返回；
// 在次数耗尽后仍未就绪则返回错误，调用方应中止启动。
func (c *Client) WaitReady(ctx context.Context, mailDomain string) error {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		status := c.CheckPropagation(ctx, mailDomain)
		if status.MXReady && status.SPFReady {
			c.log.Info("dns propagation complete",
				zap.String("domain", mailDomain),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		c.log.Info("waiting for dns propagation",
			zap.String("domain", mailDomain),
			zap.Int("attempt", attempt),
			zap.Bool("mx_ready", status.MXReady),
			zap.Bool("spf_ready", status.SPFReady),
		)

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}

	return fmt.Errorf("dns propagation for %s incomplete after %d checks", mailDomain, c.attempts)
}

// PublicIP 查询本机的公网地址，用于生成 A 与 SPF 记录。
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	resp, err := c.ipHTTP.R().SetContext(ctx).Get(c.ipURL)
	if err != nil {
		return "", fmt.Errorf("query public ip: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("query public ip: status %d", resp.StatusCode())
	}

	ip := strings.TrimSpace(string(resp.Body()))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("query public ip: invalid response %q", ip)
	}
	return ip, nil
}

func apiErrorString(status int, errs []apiError) string {
	if len(errs) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%d: %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"Dollarchain/internal/config"
	"Dollarchain/internal/utils/httpclient"

	"github.com/gojek/heimdall/v7"
	"github.com/sirupsen/logrus"
)

// 推送接口限制
const (
	maxTokensPerRequest = 100
	maxTitleLen         = 32
	maxBodyLen          = 128
	maxIDLen            = 128
)

// Notification 一条推送
type Notification struct {
	ID        string
	Title     string
	Body      string
	TargetURL string
}

// Recipient 推送目标（由 webhook 侧写入的 url + token）
type Recipient struct {
	FID   uint64
	URL   string
	Token string
}

// Sender 推送发送
type Sender interface {
	Send(ctx context.Context, recipients []Recipient, n Notification) error
}

// Client mini-app 推送客户端
type Client struct {
	http   heimdall.Doer
	logger *logrus.Logger
}

// NewClient 创建推送客户端
func NewClient(cfg *config.HTTPAPIConfig, logger *logrus.Logger) *Client {
	return &Client{http: httpclient.NewHTTPClient(cfg, logger), logger: logger}
}

type sendRequest struct {
	NotificationID string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	TargetURL      string   `json:"targetUrl"`
	Tokens         []string `json:"tokens"`
}

type sendResponse struct {
	Result struct {
		SuccessfulTokens  []string `json:"successfulTokens"`
		InvalidTokens     []string `json:"invalidTokens"`
		RateLimitedTokens []string `json:"rateLimitedTokens"`
	} `json:"result"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Send 按推送地址分组，每组最多 100 个 token 一次请求；单组失败不影响其他组，返回最后一个错误
func (c *Client) Send(ctx context.Context, recipients []Recipient, n Notification) error {
	groups := make(map[string][]string)
	var order []string
	for _, r := range recipients {
		if r.URL == "" || r.Token == "" {
			continue
		}
		if _, ok := groups[r.URL]; !ok {
			order = append(order, r.URL)
		}
		groups[r.URL] = append(groups[r.URL], r.Token)
	}

	var lastErr error
	for _, u := range order {
		tokens := groups[u]
		for start := 0; start < len(tokens); start += maxTokensPerRequest {
			end := start + maxTokensPerRequest
			if end > len(tokens) {
				end = len(tokens)
			}
			if err := c.post(ctx, u, n, tokens[start:end]); err != nil {
				c.logger.WithError(err).WithField("url", u).Warn("send notification failed")
				lastErr = err
			}
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, u string, n Notification, tokens []string) error {
	payload, err := json.Marshal(sendRequest{
		NotificationID: truncate(n.ID, maxIDLen),
		Title:          truncate(n.Title, maxTitleLen),
		Body:           truncate(n.Body, maxBodyLen),
		TargetURL:      n.TargetURL,
		Tokens:         tokens,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification api status %d", resp.StatusCode)
	}
	var body sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode notification response: %w", err)
	}
	if len(body.Result.InvalidTokens) > 0 || len(body.Result.RateLimitedTokens) > 0 {
		c.logger.WithFields(logrus.Fields{
			"invalid":      len(body.Result.InvalidTokens),
			"rate_limited": len(body.Result.RateLimitedTokens),
		}).Info("notification partially delivered")
	}
	return nil
}

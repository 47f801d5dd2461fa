package httpclient

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"Dollarchain/internal/config"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/sirupsen/logrus"
)

// NewHTTPClient 通用 HTTP 客户端：超时、5xx/网络错误指数退避重试、自动 gzip 解压
func NewHTTPClient(cfg *config.HTTPAPIConfig, logger *logrus.Logger) *httpclient.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  false,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	base := &http.Client{
		Timeout:   timeout,
		Transport: &gzipTransport{next: transport, logger: logger},
	}
	backoff := heimdall.NewExponentialBackoff(200*time.Millisecond, 2*time.Second, 2, 100*time.Millisecond)
	return httpclient.NewClient(
		httpclient.WithHTTPClient(base),
		httpclient.WithHTTPTimeout(timeout),
		httpclient.WithRetryCount(cfg.RetryCount),
		httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
	)
}

// gzipTransport 未显式指定 Accept-Encoding 时代为协商 gzip 并解压；
// 调用方自己设置了编码则原样返回响应体
type gzipTransport struct {
	next   http.RoundTripper
	logger *logrus.Logger
}

func (t *gzipTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Accept-Encoding", "gzip")
	resp, err := t.next.RoundTrip(r)
	if err != nil || !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return resp, err
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.logger.WithError(err).WithField("url", req.URL.Redacted()).Warn("gzip 响应头无法解析，按原始响应返回")
		return resp, nil
	}
	resp.Body = gunzipBody{zr: zr, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type gunzipBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b gunzipBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b gunzipBody) Close() error {
	zErr := b.zr.Close()
	if err := b.raw.Close(); err != nil {
		return err
	}
	return zErr
}

package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"Dollarchain/internal/config"
	"Dollarchain/internal/utils/httpclient"

	"github.com/gojek/heimdall/v7"
	"github.com/sirupsen/logrus"
)

// ErrNotFound 资料接口中不存在该 FID
var ErrNotFound = errors.New("profile not found")

// Profile 归一化后的外部用户资料
type Profile struct {
	FID             uint64   `json:"fid"`
	Username        string   `json:"username"`
	Score           *float64 `json:"score,omitempty"`
	VerifiedAddress *string  `json:"verified_address,omitempty"`
}

// Lookup 按 FID 查询用户资料
type Lookup interface {
	Lookup(ctx context.Context, fid uint64) (*Profile, error)
}

// Client Neynar 兼容的用户资料客户端
type Client struct {
	http    heimdall.Doer
	baseURL string
	apiKey  string
	logger  *logrus.Logger
}

// NewClient 创建资料客户端
func NewClient(cfg *config.HTTPAPIConfig, logger *logrus.Logger) *Client {
	return &Client{
		http:    httpclient.NewHTTPClient(cfg, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type bulkResponse struct {
	Users []rawUser `json:"users"`
}

// rawUser 接口原始字段，分数可能在 score 或 experimental.neynar_user_score
type rawUser struct {
	FID          uint64   `json:"fid"`
	Username     string   `json:"username"`
	Score        *float64 `json:"score"`
	Experimental *struct {
		NeynarUserScore *float64 `json:"neynar_user_score"`
	} `json:"experimental"`
	VerifiedAddresses struct {
		EthAddresses []string `json:"eth_addresses"`
		Primary      *struct {
			EthAddress string `json:"eth_address"`
		} `json:"primary"`
	} `json:"verified_addresses"`
}

func (u rawUser) normalize() *Profile {
	p := &Profile{FID: u.FID, Username: u.Username}
	switch {
	case u.Experimental != nil && u.Experimental.NeynarUserScore != nil:
		s := *u.Experimental.NeynarUserScore
		p.Score = &s
	case u.Score != nil:
		s := *u.Score
		p.Score = &s
	}
	var addr string
	if u.VerifiedAddresses.Primary != nil {
		addr = strings.TrimSpace(u.VerifiedAddresses.Primary.EthAddress)
	}
	if addr == "" {
		for _, a := range u.VerifiedAddresses.EthAddresses {
			if a = strings.TrimSpace(a); a != "" {
				addr = a
				break
			}
		}
	}
	if addr != "" {
		p.VerifiedAddress = &addr
	}
	return p
}

func (c *Client) Lookup(ctx context.Context, fid uint64) (*Profile, error) {
	q := url.Values{}
	q.Set("fids", strconv.FormatUint(fid, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/farcaster/user/bulk?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile api status %d", resp.StatusCode)
	}
	var body bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	for _, u := range body.Users {
		if u.FID == fid {
			return u.normalize(), nil
		}
	}
	c.logger.WithField("fid", fid).Info("profile api returned no user")
	return nil, ErrNotFound
}

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"Dollarchain/internal/config"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NatsBus 基于 NATS 主题的事件总线
type NatsBus struct {
	Url     string
	Subject string
	Conn    *nats.Conn
	logger  *logrus.Logger
}

// ConnectNats 连接 NATS
func ConnectNats(cfg *config.NATSConfig, logger *logrus.Logger) (*NatsBus, error) {
	b := &NatsBus{Url: cfg.URL, Subject: cfg.Subject, logger: logger}
	if b.Url == "" {
		b.Url = nats.DefaultURL
	}
	if b.Subject == "" {
		b.Subject = "dollarchain.deposit.accepted"
	}

	opts := []nats.Option{
		nats.Name("dollarchain"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("nats disconnected")
			}
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(b.Url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b.Conn = conn
	return b, nil
}

func (b *NatsBus) PublishDepositAccepted(_ context.Context, ev DepositAccepted) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Conn.Publish(b.Subject, payload)
}

func (b *NatsBus) Subscribe(h Handler) error {
	_, err := b.Conn.Subscribe(b.Subject, func(m *nats.Msg) {
		var ev DepositAccepted
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			b.logger.WithError(err).Warn("invalid deposit event payload")
			return
		}
		h(context.Background(), ev)
	})
	return err
}

func (b *NatsBus) Close() error {
	if b.Conn == nil {
		return nil
	}
	return b.Conn.Drain()
}

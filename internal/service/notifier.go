package service

import (
	"context"
	"fmt"

	"Dollarchain/internal/events"
	"Dollarchain/internal/notify"
	"Dollarchain/internal/repository"

	"github.com/sirupsen/logrus"
)

// DepositNotifier 订阅入金事件，通知同队其他成员链又长了一环
type DepositNotifier struct {
	store     repository.Store
	sender    notify.Sender
	targetURL string
	logger    *logrus.Logger
}

// NewDepositNotifier 创建通知订阅者
func NewDepositNotifier(store repository.Store, sender notify.Sender, targetURL string, logger *logrus.Logger) *DepositNotifier {
	return &DepositNotifier{store: store, sender: sender, targetURL: targetURL, logger: logger}
}

// Handle 满足 events.Handler，失败只记日志
func (n *DepositNotifier) Handle(ctx context.Context, ev events.DepositAccepted) {
	log := n.logger.WithFields(logrus.Fields{"deposit_uuid": ev.DepositUUID, "team_id": ev.TeamID})

	memberIDs, err := n.store.Teams().ListMemberIDs(ctx, ev.TeamID)
	if err != nil {
		log.WithError(err).Warn("load team members for notification failed")
		return
	}
	others := make([]uint64, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != ev.UserID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return
	}
	users, err := n.store.Users().ListByFIDs(ctx, others)
	if err != nil {
		log.WithError(err).Warn("load notification recipients failed")
		return
	}

	recipients := make([]notify.Recipient, 0, len(users))
	for _, u := range users {
		if u.NotificationURL == nil || u.NotificationToken == nil {
			continue
		}
		recipients = append(recipients, notify.Recipient{FID: u.FID, URL: *u.NotificationURL, Token: *u.NotificationToken})
	}
	if len(recipients) == 0 {
		return
	}

	who := ev.Username
	if who == "" {
		who = fmt.Sprintf("fid %d", ev.UserID)
	}
	msg := notify.Notification{
		ID:        "deposit-" + ev.DepositUUID,
		Title:     fmt.Sprintf("%s grew to %d links", ev.TeamName, ev.ChainLength),
		Body:      fmt.Sprintf("%s just added $%s to %s. Keep the chain going!", who, ev.Amount.StringFixed(2), ev.TeamName),
		TargetURL: n.targetURL,
	}
	if err := n.sender.Send(ctx, recipients, msg); err != nil {
		log.WithError(err).Warn("deposit notification failed")
		return
	}
	log.WithField("recipients", len(recipients)).Debug("deposit notification sent")
}

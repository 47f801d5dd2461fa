package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxTeamNameLen = 64

// TeamService 开链（创建队伍）
type TeamService struct {
	store  repository.Store
	logger *logrus.Logger
	now    func() time.Time
}

// NewTeamService 创建队伍服务
func NewTeamService(store repository.Store, logger *logrus.Logger) *TeamService {
	return &TeamService{store: store, logger: logger, now: utcClock(nil)}
}

// CreateTeam 在进行中的对局里创建队伍，发起人自动成为 owner。
// 发起人的第一笔入金仍需走 AttemptDeposit。
func (s *TeamService) CreateTeam(ctx context.Context, ownerFID uint64, name string) (*TeamStats, error) {
	name = strings.TrimSpace(name)
	if ownerFID == 0 {
		return nil, apperr.Validation("owner fid is required")
	}
	if name == "" || utf8.RuneCountInString(name) > maxTeamNameLen {
		return nil, apperr.Validation("team name must be 1-%d characters", maxTeamNameLen)
	}

	var team *model.Team
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		owner, err := tx.Users().GetByFID(ctx, ownerFID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return storeErr(err, "load owner")
		}
		if !owner.HasPaymentMethod() {
			return apperr.Denied(apperr.ReasonNoPaymentMethod)
		}
		game, err := tx.Games().LockActiveShared(ctx)
		if err != nil {
			return notFoundOr(err, apperr.Denied(apperr.ReasonNoActiveGame), "load active game")
		}

		team = &model.Team{
			GameID:          game.ID,
			OwnerID:         ownerFID,
			Name:            name,
			IsActive:        true,
			ChainMultiplier: 1,
			TotalDeposit:    decimal.Zero,
			TotalPoints:     decimal.Zero,
		}
		if err := tx.Teams().Create(ctx, team); err != nil {
			if errors.Is(err, repository.ErrTeamNameTaken) {
				return apperr.Validation("team name %q is already taken", name)
			}
			return storeErr(err, "create team")
		}
		if _, err := tx.Teams().AddMember(ctx, &model.TeamMember{TeamID: team.ID, UserID: ownerFID, Role: model.RoleOwner, JoinedAt: s.now()}); err != nil {
			return storeErr(err, "add owner")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"team_id": team.ID, "game_id": team.GameID, "owner_id": ownerFID}).Info("team created")
	stats := teamStatsFrom(team)
	return &stats, nil
}

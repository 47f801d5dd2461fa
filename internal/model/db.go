package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 对局状态
const (
	GameStatusActive = "active"
	GameStatusEnded  = "ended"
)

// 队伍成员角色
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// User 对应 users 表，保存外部资料接口归一化后的用户信息（主键为 Farcaster FID）
type User struct {
	FID               uint64     `gorm:"column:fid;primaryKey;autoIncrement:false;comment:Farcaster FID"`
	Username          string     `gorm:"column:username;type:varchar(64);comment:用户名"`
	VerifiedAddress   *string    `gorm:"column:verified_address;type:varchar(64);comment:已验证的收款地址"`
	Score             *float64   `gorm:"column:score;type:numeric(6,4);comment:用户质量分 0-1"`
	NotificationURL   *string    `gorm:"column:notification_url;type:varchar(256);comment:推送地址"`
	NotificationToken *string    `gorm:"column:notification_token;type:varchar(256);comment:推送令牌"`
	ProfileSyncedAt   *time.Time `gorm:"column:profile_synced_at;type:timestamptz;comment:资料同步时间"`
	CreatedAt         time.Time  `gorm:"column:created_at;type:timestamptz;default:now();comment:创建时间"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;type:timestamptz;default:now();comment:更新时间"`
}

// HasPaymentMethod 是否已绑定可收款地址
func (u *User) HasPaymentMethod() bool {
	return u != nil && u.VerifiedAddress != nil && *u.VerifiedAddress != ""
}

// Game 对应 games 表，同一时间至多一个 active 对局（部分唯一索引保证）
// PotAmount 为空时奖池等于该局全部入金之和
type Game struct {
	ID            uint64           `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Status        string           `gorm:"column:status;type:varchar(16);not null;default:'active';uniqueIndex:uk_games_single_active,where:status = 'active';comment:状态：active/ended"`
	PotAmount     *decimal.Decimal `gorm:"column:pot_amount;type:numeric(18,6);comment:奖池金额"`
	WinningTeamID *uint64          `gorm:"column:winning_team_id;type:bigint;comment:获胜队伍ID"`
	StartsAt      time.Time        `gorm:"column:starts_at;type:timestamptz;not null;default:now();comment:开始时间"`
	EndsAt        *time.Time       `gorm:"column:ends_at;type:timestamptz;comment:计划结束时间"`
	EndedAt       *time.Time       `gorm:"column:ended_at;type:timestamptz;comment:实际结束时间"`
	CreatedAt     time.Time        `gorm:"column:created_at;type:timestamptz;default:now();comment:创建时间"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;type:timestamptz;default:now();comment:更新时间"`
}

// IsActive 对局是否进行中
func (g *Game) IsActive() bool { return g != nil && g.Status == GameStatusActive }

// Team 对应 teams 表。ChainLength/ChainMultiplier/TotalDeposit/TotalPoints 为缓存，
// 任何时候都可由 deposits 表重新计算得到
type Team struct {
	ID              uint64          `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	GameID          uint64          `gorm:"column:game_id;type:bigint;not null;uniqueIndex:uk_team_game_name,priority:1;comment:所属对局"`
	OwnerID         uint64          `gorm:"column:owner_id;type:bigint;not null;comment:发起人FID"`
	Name            string          `gorm:"column:name;type:varchar(64);not null;uniqueIndex:uk_team_game_name,priority:2;comment:队伍名（同局唯一）"`
	IsActive        bool            `gorm:"column:is_active;type:boolean;default:true;comment:是否活跃"`
	ChainLength     int64           `gorm:"column:chain_length;type:bigint;not null;default:0;comment:链长（入金笔数）"`
	ChainMultiplier float64         `gorm:"column:chain_multiplier;type:numeric(10,4);not null;default:1;comment:当前乘数"`
	TotalDeposit    decimal.Decimal `gorm:"column:total_deposit;type:numeric(18,6);not null;default:0;comment:累计入金"`
	TotalPoints     decimal.Decimal `gorm:"column:total_points;type:numeric(24,6);not null;default:0;comment:累计积分"`
	RecomputedAt    *time.Time      `gorm:"column:recomputed_at;type:timestamptz;comment:聚合重算时间"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;default:now();comment:创建时间"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;default:now();comment:更新时间"`
}

// TeamMember 对应 team_members 表
type TeamMember struct {
	ID       uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TeamID   uint64    `gorm:"column:team_id;type:bigint;not null;uniqueIndex:uk_team_member,priority:1"`
	UserID   uint64    `gorm:"column:user_id;type:bigint;not null;uniqueIndex:uk_team_member,priority:2;index"`
	Role     string    `gorm:"column:role;type:varchar(16);not null;default:'member'"`
	JoinedAt time.Time `gorm:"column:joined_at;type:timestamptz;not null;default:now()"`
}

func (User) TableName() string       { return "users" }
func (Game) TableName() string       { return "games" }
func (Team) TableName() string       { return "teams" }
func (TeamMember) TableName() string { return "team_members" }

// Package repotest 提供 repository.Store 的内存实现，供上层单元测试使用。
// Transaction 串行执行，fn 返回错误时恢复事务开始前的快照。
// 事务全局串行，并发事务之间的行锁语义只有 Postgres 实现才真正提供；
// 这里只按调用顺序记录加锁操作（见 Locks），供测试断言锁顺序。
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/scoring"

	"github.com/shopspring/decimal"
)

type state struct {
	users    map[uint64]model.User
	games    map[uint64]model.Game
	teams    map[uint64]model.Team
	members  map[[2]uint64]model.TeamMember
	deposits []model.Deposit
	payouts  []model.Payout
	seq      uint64
}

func (s *state) clone() *state {
	c := &state{
		users:    make(map[uint64]model.User, len(s.users)),
		games:    make(map[uint64]model.Game, len(s.games)),
		teams:    make(map[uint64]model.Team, len(s.teams)),
		members:  make(map[[2]uint64]model.TeamMember, len(s.members)),
		deposits: append([]model.Deposit(nil), s.deposits...),
		payouts:  append([]model.Payout(nil), s.payouts...),
		seq:      s.seq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.games {
		c.games[k] = v
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	return c
}

// Store 内存 Store
type Store struct {
	mu    *sync.Mutex // 保护 st 与 locks
	txMu  *sync.Mutex // 串行化事务，近似行锁
	st    **state
	inTx  bool
	locks *[]string

	// Fail 非空时，对应操作名（如 "Deposits.Create"）直接返回该错误
	Fail map[string]error
	// Now 账本写入时间，默认 time.Now
	Now func() time.Time
}

// New 创建空的内存 Store
func New() *Store {
	st := &state{
		users:   map[uint64]model.User{},
		games:   map[uint64]model.Game{},
		teams:   map[uint64]model.Team{},
		members: map[[2]uint64]model.TeamMember{},
	}
	return &Store{mu: &sync.Mutex{}, txMu: &sync.Mutex{}, st: &st, locks: &[]string{}, Fail: map[string]error{}, Now: time.Now}
}

func (s *Store) lock(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.locks = append(*s.locks, op)
}

// Locks 返回迄今为止的加锁操作（如 "Users.LockByFID"），按调用顺序
func (s *Store) Locks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), *s.locks...)
}

// ResetLocks 清空加锁记录
func (s *Store) ResetLocks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.locks = nil
}

var _ repository.Store = (*Store)(nil)

func (s *Store) fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fail[op]
}

func (s *Store) nextID() uint64 {
	(*s.st).seq++
	return (*s.st).seq
}

func (s *Store) Users() repository.UserRepository       { return users{s} }
func (s *Store) Games() repository.GameRepository       { return games{s} }
func (s *Store) Teams() repository.TeamRepository       { return teams{s} }
func (s *Store) Deposits() repository.DepositRepository { return deposits{s} }
func (s *Store) Payouts() repository.PayoutRepository   { return payouts{s} }

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := s.fail("Transaction"); err != nil {
		return err
	}
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := (*s.st).clone()
	s.mu.Unlock()

	tx := *s
	tx.inTx = true
	if err := fn(&tx); err != nil {
		s.mu.Lock()
		*s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return ctx.Err()
}

// Seed 辅助方法：直接写入数据，不经过约束检查

func (s *Store) SeedUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	(*s.st).users[u.FID] = u
}

func (s *Store) SeedGame(g model.Game) model.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == 0 {
		g.ID = s.nextID()
	}
	if g.Status == "" {
		g.Status = model.GameStatusActive
	}
	(*s.st).games[g.ID] = g
	return g
}

func (s *Store) SeedTeam(t model.Team) model.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.nextID()
	}
	t.IsActive = true
	if t.ChainMultiplier == 0 {
		t.ChainMultiplier = 1
	}
	(*s.st).teams[t.ID] = t
	return t
}

func (s *Store) SeedDeposit(d model.Deposit) model.Deposit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = s.nextID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.Now()
	}
	(*s.st).deposits = append((*s.st).deposits, d)
	return d
}

// AllDeposits 返回账本全部记录
func (s *Store) AllDeposits() []model.Deposit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Deposit(nil), (*s.st).deposits...)
}

// Team 直接读取队伍行
func (s *Store) Team(id uint64) model.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*s.st).teams[id]
}

// AllPayouts 返回全部派奖记录
func (s *Store) AllPayouts() []model.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Payout(nil), (*s.st).payouts...)
}

type users struct{ s *Store }

func (r users) Upsert(_ context.Context, u *model.User) error {
	if err := r.s.fail("Users.Upsert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := (*r.s.st).users[u.FID]
	now := r.s.Now()
	if ok {
		existing.Username = u.Username
		existing.VerifiedAddress = u.VerifiedAddress
		existing.Score = u.Score
		existing.ProfileSyncedAt = u.ProfileSyncedAt
		existing.UpdatedAt = now
		(*r.s.st).users[u.FID] = existing
		return nil
	}
	cp := *u
	cp.CreatedAt, cp.UpdatedAt = now, now
	(*r.s.st).users[u.FID] = cp
	return nil
}

func (r users) GetByFID(_ context.Context, fid uint64) (*model.User, error) {
	if err := r.s.fail("Users.GetByFID"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := (*r.s.st).users[fid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r users) LockByFID(ctx context.Context, fid uint64) (*model.User, error) {
	if err := r.s.fail("Users.LockByFID"); err != nil {
		return nil, err
	}
	r.s.lock("Users.LockByFID")
	return r.GetByFID(ctx, fid)
}

func (r users) ListByFIDs(_ context.Context, fids []uint64) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.User
	for _, fid := range fids {
		if u, ok := (*r.s.st).users[fid]; ok {
			cp := u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FID < out[j].FID })
	return out, nil
}

type games struct{ s *Store }

func (r games) Create(_ context.Context, g *model.Game) error {
	if err := r.s.fail("Games.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if g.Status == "" {
		g.Status = model.GameStatusActive
	}
	if g.Status == model.GameStatusActive {
		for _, existing := range (*r.s.st).games {
			if existing.Status == model.GameStatusActive {
				return repository.ErrActiveGameExists
			}
		}
	}
	g.ID = r.s.nextID()
	if g.StartsAt.IsZero() {
		g.StartsAt = r.s.Now()
	}
	(*r.s.st).games[g.ID] = *g
	return nil
}

func (r games) GetByID(_ context.Context, id uint64) (*model.Game, error) {
	if err := r.s.fail("Games.GetByID"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := (*r.s.st).games[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &g, nil
}

func (r games) GetActive(_ context.Context) (*model.Game, error) {
	if err := r.s.fail("Games.GetActive"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, g := range (*r.s.st).games {
		if g.Status == model.GameStatusActive {
			cp := g
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r games) LockActiveShared(ctx context.Context) (*model.Game, error) {
	if err := r.s.fail("Games.LockActiveShared"); err != nil {
		return nil, err
	}
	r.s.lock("Games.LockActiveShared")
	return r.GetActive(ctx)
}

func (r games) LockByID(ctx context.Context, id uint64) (*model.Game, error) {
	if err := r.s.fail("Games.LockByID"); err != nil {
		return nil, err
	}
	r.s.lock("Games.LockByID")
	return r.GetByID(ctx, id)
}

func (r games) MarkEnded(_ context.Context, id uint64, winningTeamID *uint64, pot decimal.Decimal, endedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := (*r.s.st).games[id]
	if !ok || g.Status != model.GameStatusActive {
		return repository.ErrNotFound
	}
	g.Status = model.GameStatusEnded
	g.WinningTeamID = winningTeamID
	g.PotAmount = &pot
	g.EndedAt = &endedAt
	(*r.s.st).games[id] = g
	return nil
}

func (r games) ListExpired(_ context.Context, now time.Time) ([]*model.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Game
	for _, g := range (*r.s.st).games {
		if g.Status == model.GameStatusActive && g.EndsAt != nil && !g.EndsAt.After(now) {
			cp := g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type teams struct{ s *Store }

func (r teams) Create(_ context.Context, t *model.Team) error {
	if err := r.s.fail("Teams.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range (*r.s.st).teams {
		if existing.GameID == t.GameID && existing.Name == t.Name {
			return repository.ErrTeamNameTaken
		}
	}
	t.ID = r.s.nextID()
	t.IsActive = true
	if t.ChainMultiplier == 0 {
		t.ChainMultiplier = 1
	}
	t.CreatedAt = r.s.Now()
	(*r.s.st).teams[t.ID] = *t
	return nil
}

func (r teams) GetByID(_ context.Context, id uint64) (*model.Team, error) {
	if err := r.s.fail("Teams.GetByID"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := (*r.s.st).teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r teams) ListByGame(_ context.Context, gameID uint64) ([]*model.Team, error) {
	if err := r.s.fail("Teams.ListByGame"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Team
	for _, t := range (*r.s.st).teams {
		if t.GameID == gameID {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r teams) LockByID(ctx context.Context, id uint64) (*model.Team, error) {
	r.s.lock("Teams.LockByID")
	return r.GetByID(ctx, id)
}

func (r teams) LockByGame(ctx context.Context, gameID uint64) ([]*model.Team, error) {
	if err := r.s.fail("Teams.LockByGame"); err != nil {
		return nil, err
	}
	r.s.lock("Teams.LockByGame")
	return r.ListByGame(ctx, gameID)
}

func (r teams) UpdateAggregates(_ context.Context, score scoring.TeamScore, at time.Time) error {
	if err := r.s.fail("Teams.UpdateAggregates"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := (*r.s.st).teams[score.TeamID]
	if !ok {
		return nil
	}
	t.ChainLength = score.ChainLength
	t.ChainMultiplier = score.Multiplier
	t.TotalDeposit = score.TotalDeposit
	t.TotalPoints = score.TotalPoints
	t.RecomputedAt = &at
	(*r.s.st).teams[score.TeamID] = t
	return nil
}

func (r teams) AddMember(_ context.Context, m *model.TeamMember) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]uint64{m.TeamID, m.UserID}
	if _, ok := (*r.s.st).members[key]; ok {
		return false, nil
	}
	m.ID = r.s.nextID()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = r.s.Now()
	}
	(*r.s.st).members[key] = *m
	return true, nil
}

func (r teams) ListMemberIDs(_ context.Context, teamID uint64) ([]uint64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uint64
	for key := range (*r.s.st).members {
		if key[0] == teamID {
			ids = append(ids, key[1])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type deposits struct{ s *Store }

func (r deposits) Create(_ context.Context, d *model.Deposit) error {
	if err := r.s.fail("Deposits.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.TxHash != nil {
		for _, existing := range (*r.s.st).deposits {
			if existing.TxHash != nil && *existing.TxHash == *d.TxHash {
				return repository.ErrDuplicateTxHash
			}
		}
	}
	d.ID = r.s.nextID()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.s.Now()
	}
	(*r.s.st).deposits = append((*r.s.st).deposits, *d)
	return nil
}

func (r deposits) UserGameStats(_ context.Context, userID, gameID uint64) (repository.DepositStats, error) {
	if err := r.s.fail("Deposits.UserGameStats"); err != nil {
		return repository.DepositStats{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var stats repository.DepositStats
	for _, d := range (*r.s.st).deposits {
		if d.UserID != userID || d.GameID != gameID {
			continue
		}
		stats.Count++
		if stats.LastAt == nil || d.CreatedAt.After(*stats.LastAt) {
			at := d.CreatedAt
			stats.LastAt = &at
		}
	}
	return stats, nil
}

func (r deposits) ExistsTxHash(_ context.Context, txHash string) (bool, error) {
	if err := r.s.fail("Deposits.ExistsTxHash"); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range (*r.s.st).deposits {
		if d.TxHash != nil && *d.TxHash == txHash {
			return true, nil
		}
	}
	return false, nil
}

func (r deposits) list(match func(model.Deposit) bool) []*model.Deposit {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Deposit
	for _, d := range (*r.s.st).deposits {
		if match(d) {
			cp := d
			out = append(out, &cp)
		}
	}
	return out
}

func (r deposits) ListByGame(_ context.Context, gameID uint64) ([]*model.Deposit, error) {
	if err := r.s.fail("Deposits.ListByGame"); err != nil {
		return nil, err
	}
	return r.list(func(d model.Deposit) bool { return d.GameID == gameID }), nil
}

func (r deposits) ListByTeam(_ context.Context, teamID uint64) ([]*model.Deposit, error) {
	return r.list(func(d model.Deposit) bool { return d.TeamID == teamID }), nil
}

func (r deposits) SumByGame(_ context.Context, gameID uint64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, d := range r.list(func(d model.Deposit) bool { return d.GameID == gameID }) {
		sum = sum.Add(d.Amount)
	}
	return sum, nil
}

func (r deposits) SetPointsEarned(_ context.Context, teamID uint64, multiplier float64) error {
	if err := r.s.fail("Deposits.SetPointsEarned"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, d := range (*r.s.st).deposits {
		if d.TeamID != teamID {
			continue
		}
		p := scoring.Points(d.Amount, multiplier, d.ScoreWeight).Round(scoring.PointsPrecision)
		(*r.s.st).deposits[i].PointsEarned = &p
	}
	return nil
}

type payouts struct{ s *Store }

func (r payouts) CreateBatch(_ context.Context, list []*model.Payout) (int64, error) {
	if err := r.s.fail("Payouts.CreateBatch"); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var created int64
	for _, p := range list {
		dup := false
		for _, existing := range (*r.s.st).payouts {
			if existing.GameID == p.GameID && existing.UserID == p.UserID && existing.Kind == p.Kind {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		p.ID = r.s.nextID()
		if p.Status == "" {
			p.Status = model.PayoutStatusPending
		}
		(*r.s.st).payouts = append((*r.s.st).payouts, *p)
		created++
	}
	return created, nil
}

func (r payouts) ListByGame(_ context.Context, gameID uint64, kind string) ([]*model.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Payout
	for _, p := range (*r.s.st).payouts {
		if p.GameID == gameID && (kind == "" || p.Kind == kind) {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r payouts) update(id uint64, fn func(p *model.Payout)) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range (*r.s.st).payouts {
		if (*r.s.st).payouts[i].ID == id {
			fn(&(*r.s.st).payouts[i])
		}
	}
}

func (r payouts) MarkSubmitted(ctx context.Context, id uint64, txHash string, reason string) error {
	if err := r.s.fail("Payouts.MarkSubmitted"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.update(id, func(p *model.Payout) {
		p.Status = model.PayoutStatusSubmitted
		p.TxHash = &txHash
		p.Error = &reason
	})
	return nil
}

func (r payouts) MarkSent(ctx context.Context, id uint64, txHash string) error {
	if err := r.s.fail("Payouts.MarkSent"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.update(id, func(p *model.Payout) {
		p.Status = model.PayoutStatusSent
		p.TxHash = &txHash
		p.Error = nil
	})
	return nil
}

func (r payouts) MarkFailed(ctx context.Context, id uint64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.update(id, func(p *model.Payout) {
		p.Status = model.PayoutStatusFailed
		p.Error = &reason
	})
	return nil
}

// Package position manages liquidity positions and the fees they earn.
package position

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/liquiditymath"
	"github.com/defistate/concentrated-liquidity-go/store"
	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/uint128"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidRange  = errors.New("position range is inverted")
	ErrLiquidityZero = errors.New("position liquidity must be greater than zero")
)

// Logger is the logging interface used by the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store is the read/write view positions are managed through. It is
// satisfied by *store.Overlay.
type Store interface {
	store.Reader
	SavePosition(ctx context.Context, p clpool.Position) error
	DeletePosition(ctx context.Context, id uint64) error
	SetLastPositionID(ctx context.Context, id uint64) error
}

// Rewards are the uncollected fees of a position, indexed by clpool.Token.
type Rewards [2]uint128.Uint128

// Manager mints, updates and burns positions and settles their fees.
type Manager struct {
	logger Logger
}

func NewManager(logger Logger) (*Manager, error) {
	if logger == nil {
		return nil, errors.New("config: Logger cannot be nil")
	}
	return &Manager{logger: logger}, nil
}

// FeeSnapshots records the current fee growth of every existing tick in
// [lower, upper].
func FeeSnapshots(ctx context.Context, r store.Reader, pool clpool.PoolID, lower, upper int32) ([]clpool.FeeInfo, error) {
	if upper < lower {
		return nil, ErrInvalidRange
	}
	if lower == math.MinInt32 {
		return nil, fmt.Errorf("%w: lower tick index %d", ErrInvalidRange, lower)
	}
	// indices are unique, so the range holds at most upper-lower+1 ticks
	start := lower - 1
	ticks, err := r.Ticks(ctx, pool, &start, int(int64(upper)-int64(lower)+1))
	if err != nil {
		return nil, err
	}

	snapshots := make([]clpool.FeeInfo, 0, len(ticks))
	for _, t := range ticks {
		if t.Index > upper {
			break
		}
		snapshots = append(snapshots, clpool.FeeInfo{TickIndex: t.Index, FeeGrowth0: t.FeeGrowth0, FeeGrowth1: t.FeeGrowth1})
	}
	return snapshots, nil
}

// Mint creates a position with the next free ID and a fee snapshot of its
// ticks.
func (m *Manager) Mint(ctx context.Context, tx Store, pool clpool.PoolID, owner common.Address, liquidity uint128.Uint128, lower, upper int32) (clpool.Position, error) {
	if liquidity.IsZero() {
		return clpool.Position{}, ErrLiquidityZero
	}
	snapshots, err := FeeSnapshots(ctx, tx, pool, lower, upper)
	if err != nil {
		return clpool.Position{}, err
	}
	last, err := tx.LastPositionID(ctx)
	if err != nil {
		return clpool.Position{}, err
	}
	if last == math.MaxUint64 {
		return clpool.Position{}, errors.New("position id space exhausted")
	}

	p := clpool.Position{
		ID:           last + 1,
		PoolID:       pool,
		Owner:        owner,
		Liquidity:    liquidity,
		Lower:        lower,
		Upper:        upper,
		FeeSnapshots: snapshots,
	}
	if err := tx.SavePosition(ctx, p); err != nil {
		return clpool.Position{}, err
	}
	if err := tx.SetLastPositionID(ctx, p.ID); err != nil {
		return clpool.Position{}, err
	}
	m.logger.Debug("minted position", "id", p.ID, "owner", owner, "lower", lower, "upper", upper)
	return p, nil
}

// Get loads a position.
func (m *Manager) Get(ctx context.Context, r store.Reader, id uint64) (clpool.Position, error) {
	p, err := r.Position(ctx, id)
	if err != nil {
		return clpool.Position{}, fmt.Errorf("position %d: %w", id, err)
	}
	return p, nil
}

// GetOwned loads a position and checks that sender owns it.
func (m *Manager) GetOwned(ctx context.Context, r store.Reader, sender common.Address, id uint64) (clpool.Position, error) {
	p, err := m.Get(ctx, r, id)
	if err != nil {
		return clpool.Position{}, err
	}
	if p.Owner != sender {
		return clpool.Position{}, fmt.Errorf("%w: %s does not own position %d", ErrUnauthorized, sender, id)
	}
	return p, nil
}

// Reward computes Σ (growth_now - growth_snapshot) * liquidity per token.
// The growth deltas are summed first and multiplied once, rounding down.
// A tick without a snapshot counts from zero growth.
func Reward(ctx context.Context, r store.Reader, p clpool.Position) (Rewards, error) {
	current, err := FeeSnapshots(ctx, r, p.PoolID, p.Lower, p.Upper)
	if err != nil {
		return Rewards{}, err
	}
	last := make(map[int32]clpool.FeeInfo, len(p.FeeSnapshots))
	for _, s := range p.FeeSnapshots {
		last[s.TickIndex] = s
	}

	var sum [2]decimalmath.Decimal
	for _, now := range current {
		prev := last[now.TickIndex]
		for tok, pair := range [2][2]decimalmath.Decimal{
			{now.FeeGrowth0, prev.FeeGrowth0},
			{now.FeeGrowth1, prev.FeeGrowth1},
		} {
			delta, err := pair[0].Sub(pair[1])
			if err != nil {
				return Rewards{}, fmt.Errorf("position %d tick %d: fee growth decreased: %w", p.ID, now.TickIndex, err)
			}
			if sum[tok], err = sum[tok].Add(delta); err != nil {
				return Rewards{}, err
			}
		}
	}

	var rewards Rewards
	for tok := range sum {
		if rewards[tok], err = sum[tok].MulUint(p.Liquidity); err != nil {
			return Rewards{}, err
		}
	}
	return rewards, nil
}

// Claim settles the rewards of a position and refreshes its snapshot.
func (m *Manager) Claim(ctx context.Context, tx Store, p clpool.Position) (Rewards, clpool.Position, error) {
	rewards, err := Reward(ctx, tx, p)
	if err != nil {
		return Rewards{}, clpool.Position{}, err
	}
	if p.FeeSnapshots, err = FeeSnapshots(ctx, tx, p.PoolID, p.Lower, p.Upper); err != nil {
		return Rewards{}, clpool.Position{}, err
	}
	if err := tx.SavePosition(ctx, p); err != nil {
		return Rewards{}, clpool.Position{}, err
	}
	m.logger.Debug("claimed rewards", "id", p.ID, "reward0", rewards[0].String(), "reward1", rewards[1].String())
	return rewards, p, nil
}

// UpdateLiquidity adds delta to, or with add false subtracts it from, the
// position's liquidity.
func (m *Manager) UpdateLiquidity(ctx context.Context, tx Store, p clpool.Position, delta uint128.Uint128, add bool) (clpool.Position, error) {
	var err error
	if add {
		p.Liquidity, err = liquiditymath.AddLiquidity(p.Liquidity, delta)
	} else {
		p.Liquidity, err = liquiditymath.SubLiquidity(p.Liquidity, delta)
	}
	if err != nil {
		return clpool.Position{}, fmt.Errorf("position %d: %w", p.ID, err)
	}
	if err := tx.SavePosition(ctx, p); err != nil {
		return clpool.Position{}, err
	}
	return p, nil
}

// Burn removes a position.
func (m *Manager) Burn(ctx context.Context, tx Store, id uint64) error {
	if err := tx.DeletePosition(ctx, id); err != nil {
		return err
	}
	m.logger.Debug("burned position", "id", id)
	return nil
}

// Transfer hands a position owned by sender to recipient.
func (m *Manager) Transfer(ctx context.Context, tx Store, sender common.Address, id uint64, recipient common.Address) (clpool.Position, error) {
	p, err := m.GetOwned(ctx, tx, sender, id)
	if err != nil {
		return clpool.Position{}, err
	}
	p.Owner = recipient
	if err := tx.SavePosition(ctx, p); err != nil {
		return clpool.Position{}, err
	}
	m.logger.Info("transferred position", "id", id, "from", sender, "to", recipient)
	return p, nil
}

// Owned lists the positions of owner in ascending ID order.
func (m *Manager) Owned(ctx context.Context, r store.Reader, owner common.Address, startAfter *uint64, limit int) ([]clpool.Position, error) {
	return r.Positions(ctx, owner, startAfter, limit)
}

// ledger.go - Season-weighted staking: stake, unstake, claims, rewards,
// and season advancement. State transitions are authorized against the
// vault address; the vault serializes fund movements around them.

package staking

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type positionKey struct {
	Staker common.Address
	Asset  Asset
}

type claimKey struct {
	Staker common.Address
	Asset  Asset
	Season uint64
}

// Ledger tracks seasons, open positions, and settled claims. Seasons
// are never discarded: claims reach back to any closed season.
type Ledger struct {
	mu        sync.Mutex
	vault     common.Address
	period    uint64 // seconds, for seasons opened from now on
	clock     func() time.Time
	seasons   []*Season // seasons[i] holds season i+1
	positions map[positionKey]*Position
	claimed   map[claimKey]bool
}

// NewLedger opens season 1 immediately. A nil clock means time.Now.
func NewLedger(vault common.Address, period time.Duration, clock func() time.Time) (*Ledger, error) {
	secs := uint64(period / time.Second)
	if secs == 0 {
		return nil, ErrZeroPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	l := &Ledger{
		vault:     vault,
		period:    secs,
		clock:     clock,
		positions: make(map[positionKey]*Position),
		claimed:   make(map[claimKey]bool),
	}
	now := l.now()
	l.seasons = append(l.seasons, &Season{ID: 1, Start: now, End: now + secs, Period: secs})
	return l, nil
}

func (l *Ledger) now() uint64 {
	ts := l.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (l *Ledger) current() *Season { return l.seasons[len(l.seasons)-1] }

// StakeState opens a position for (staker, asset) in the current season.
// The position's weight is amount × remaining-season-seconds ÷ day.
func (l *Ledger) StakeState(caller common.Address, asset Asset, staker common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.vault {
		return ErrNotVault
	}
	if !asset.Valid() {
		return ErrUnknownAsset
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	key := positionKey{Staker: staker, Asset: asset}
	if _, open := l.positions[key]; open {
		return ErrAlreadyStaked
	}
	now := l.now()
	cur := l.current()
	if now > cur.End {
		return ErrSeasonOver
	}
	weight, err := timeWeight(amount, cur.End-now)
	if err != nil {
		return err
	}

	tot := &cur.Totals[asset]
	var newStaked, newWeight uint256.Int
	if _, overflow := newStaked.AddOverflow(&tot.Staked, amount); overflow {
		return ErrAmountOverflow
	}
	if _, overflow := newWeight.AddOverflow(&tot.Weight, &weight); overflow {
		return ErrAmountOverflow
	}
	tot.Staked = newStaked
	tot.Weight = newWeight

	pos := &Position{Season: cur.ID, StakedAt: now, Weight: weight}
	pos.Principal.Set(amount)
	l.positions[key] = pos
	return nil
}

// UnstakeState closes the position and returns the principal to pay
// out. Totals subtract with clamping at zero: a position opened in an
// earlier season can carry weight the current season never accumulated.
func (l *Ledger) UnstakeState(caller common.Address, asset Asset, staker common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.vault {
		return nil, ErrNotVault
	}
	if !asset.Valid() {
		return nil, ErrUnknownAsset
	}
	key := positionKey{Staker: staker, Asset: asset}
	pos, open := l.positions[key]
	if !open {
		return nil, ErrNoPosition
	}
	tot := &l.current().Totals[asset]
	subClamp(&tot.Staked, &pos.Principal)
	subClamp(&tot.Weight, &pos.Weight)
	delete(l.positions, key)
	return pos.Principal.Clone(), nil
}

// ClaimState settles (staker, asset, season) and returns the reward:
// seasonReward × weight ÷ seasonWeight, floored. A position opened in
// the claimed season uses its stored partial weight; one opened earlier
// counts the full period of the claimed season, at that season's own
// stored period.
func (l *Ledger) ClaimState(caller common.Address, asset Asset, staker common.Address, seasonID uint64) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.vault {
		return nil, ErrNotVault
	}
	if !asset.Valid() {
		return nil, ErrUnknownAsset
	}
	cur := l.current()
	if seasonID == 0 || seasonID > cur.ID {
		return nil, ErrNoSuchSeason
	}
	season := l.seasons[seasonID-1]
	if seasonID == cur.ID && l.now() <= season.End {
		return nil, ErrSeasonNotClosed
	}
	ck := claimKey{Staker: staker, Asset: asset, Season: seasonID}
	if l.claimed[ck] {
		return nil, ErrAlreadyClaimed
	}
	pos, open := l.positions[positionKey{Staker: staker, Asset: asset}]
	if !open {
		return nil, ErrNoPosition
	}
	if pos.Season > seasonID {
		return nil, ErrNotEligible
	}

	var weight uint256.Int
	if pos.Season == seasonID {
		weight = pos.Weight
	} else {
		w, err := timeWeight(&pos.Principal, season.Period)
		if err != nil {
			return nil, err
		}
		weight = w
	}
	tot := &season.Totals[asset]
	if weight.IsZero() || tot.Weight.IsZero() {
		return nil, ErrNoWeight
	}
	var prod uint256.Int
	if _, overflow := prod.MulOverflow(&tot.Reward, &weight); overflow {
		return nil, ErrAmountOverflow
	}
	var reward uint256.Int
	reward.Div(&prod, &tot.Weight)
	l.claimed[ck] = true
	return &reward, nil
}

// AddRewardsState adds amount to the current season's reward pool.
func (l *Ledger) AddRewardsState(caller common.Address, asset Asset, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.vault {
		return ErrNotVault
	}
	if !asset.Valid() {
		return ErrUnknownAsset
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	tot := &l.current().Totals[asset]
	var newReward uint256.Int
	if _, overflow := newReward.AddOverflow(&tot.Reward, amount); overflow {
		return ErrAmountOverflow
	}
	tot.Reward = newReward
	return nil
}

// AdvanceSeason opens the next season once the current one has ended.
// The new season copies the staked totals, starts with a zero reward
// pool, and begins from the full-period base weight of the carried
// principal.
func (l *Ledger) AdvanceSeason(caller common.Address) (Season, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.vault {
		return Season{}, ErrNotVault
	}
	now := l.now()
	cur := l.current()
	if now <= cur.End {
		return Season{}, ErrSeasonNotOver
	}
	next := &Season{ID: cur.ID + 1, Start: now, End: now + l.period, Period: l.period}
	for a := Asset(0); a < assetCount; a++ {
		staked := cur.Totals[a].Staked
		weight, err := timeWeight(&staked, l.period)
		if err != nil {
			return Season{}, err
		}
		next.Totals[a].Staked = staked
		next.Totals[a].Weight = weight
	}
	l.seasons = append(l.seasons, next)
	return *next, nil
}

// SetSeasonPeriod changes the period for seasons opened from now on.
func (l *Ledger) SetSeasonPeriod(caller common.Address, period time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.vault {
		return ErrNotVault
	}
	secs := uint64(period / time.Second)
	if secs == 0 {
		return ErrZeroPeriod
	}
	l.period = secs
	return nil
}

// CurrentSeason returns a copy of the open season.
func (l *Ledger) CurrentSeason() Season {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.current()
}

// SeasonByID returns a copy of season id.
func (l *Ledger) SeasonByID(id uint64) (Season, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == 0 || id > l.current().ID {
		return Season{}, ErrNoSuchSeason
	}
	return *l.seasons[id-1], nil
}

// SeasonCount returns the id of the current season.
func (l *Ledger) SeasonCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current().ID
}

// PositionOf returns a copy of the open position, if any.
func (l *Ledger) PositionOf(asset Asset, staker common.Address) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, open := l.positions[positionKey{Staker: staker, Asset: asset}]
	if !open {
		return Position{}, false
	}
	return *pos, true
}

// Claimed reports whether (staker, asset, season) has settled.
func (l *Ledger) Claimed(asset Asset, staker common.Address, seasonID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimed[claimKey{Staker: staker, Asset: asset, Season: seasonID}]
}

// PeriodSeconds returns the period for seasons opened from now on.
func (l *Ledger) PeriodSeconds() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.period
}

// vault.go - The vault orchestrator: sole authorized caller of the pool
// engines and the staking ledger, and owner of every fund movement.
//
// Ordering rules. Inbound ops (deposit, stake, fund rewards) move funds
// first and refund if the state change is refused; outbound ops (withdraw,
// unstake, claim) change state first and pay after. The vault never holds
// funds for a rejected operation and never pays for an uncommitted one.

package vault

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/metrics"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/mixer"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/staking"
)

var (
	// ErrNoPool is returned for operations against an unconfigured asset pool.
	ErrNoPool = errors.New("no pool for asset")
	// ErrPoolExists is returned when a pool is configured twice.
	ErrPoolExists = errors.New("pool already configured")
	// ErrJournal wraps persistence failures that happen after the in-memory
	// state change committed. The operation took effect; its record did not.
	ErrJournal = errors.New("journal write failed")
)

// Journal records accepted operations for crash recovery.
type Journal interface {
	AppendDeposit(asset staking.Asset, ev mixer.DepositEvent) error
	AppendNullifier(asset staking.Asset, nullifierHash fr.Element) error
	SaveStaking(snapshot []byte) error
}

// Pool is one fixed-denomination anonymity set plus its pricing.
type Pool struct {
	Engine       *mixer.Engine
	Denomination *uint256.Int
	Fee          *uint256.Int

	cost *uint256.Int // denomination + fee
}

// PoolInfo is a point-in-time view of one pool.
type PoolInfo struct {
	Asset        staking.Asset
	Denomination *uint256.Int
	Fee          *uint256.Int
	Size         uint64
	Root         fr.Element
}

// DepositNotice is pushed to subscribers as deposits land.
type DepositNotice struct {
	Asset staking.Asset
	Event mixer.DepositEvent
}

// Config assembles a Vault.
type Config struct {
	// Address identifies the vault to the engines and the staking ledger.
	// Both must be constructed with the same address.
	Address common.Address
	Funds   FundLedger
	Staking *staking.Ledger
	// Journal may be nil, which disables persistence.
	Journal Journal
	Log     *logrus.Logger
}

// Vault owns the pools, the staking ledger, and the funds that back both.
type Vault struct {
	mu      sync.Mutex
	addr    common.Address
	pools   map[staking.Asset]*Pool
	funds   FundLedger
	ledger  *staking.Ledger
	journal Journal
	log     *logrus.Logger

	subs    map[int]chan DepositNotice
	nextSub int
}

// New builds a Vault from cfg.
func New(cfg Config) (*Vault, error) {
	if cfg.Funds == nil {
		return nil, errors.New("vault: fund ledger required")
	}
	if cfg.Staking == nil {
		return nil, errors.New("vault: staking ledger required")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	v := &Vault{
		addr:    cfg.Address,
		pools:   make(map[staking.Asset]*Pool),
		funds:   cfg.Funds,
		ledger:  cfg.Staking,
		journal: cfg.Journal,
		log:     log,
		subs:    make(map[int]chan DepositNotice),
	}
	metrics.CurrentSeason.Set(float64(v.ledger.CurrentSeason().ID))
	return v, nil
}

// AddPool configures the anonymity set for asset. Denomination and fee are
// copied; the engine must have been built with this vault's address.
func (v *Vault) AddPool(asset staking.Asset, engine *mixer.Engine, denomination, fee *uint256.Int) error {
	if engine == nil {
		return errors.New("vault: pool engine required")
	}
	if !asset.Valid() {
		return staking.ErrUnknownAsset
	}
	if denomination == nil || denomination.IsZero() {
		return staking.ErrZeroAmount
	}
	if fee == nil {
		fee = new(uint256.Int)
	}
	var cost uint256.Int
	if _, overflow := cost.AddOverflow(denomination, fee); overflow {
		return staking.ErrAmountOverflow
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pools[asset]; ok {
		return ErrPoolExists
	}
	v.pools[asset] = &Pool{
		Engine:       engine,
		Denomination: denomination.Clone(),
		Fee:          fee.Clone(),
		cost:         cost.Clone(),
	}
	metrics.AnonymitySetSize.WithLabelValues(asset.String()).Set(float64(engine.Size()))
	return nil
}

// Deposit escrows denomination+fee from the depositor and inserts the
// commitment into the asset's tree. The fee accrues to the open season's
// reward pool.
func (v *Vault) Deposit(asset staking.Asset, depositor common.Address, commitment fr.Element) (mixer.DepositEvent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pool, ok := v.pools[asset]
	if !ok {
		return mixer.DepositEvent{}, ErrNoPool
	}

	// Funds first: a depositor who cannot pay must not touch the tree.
	if err := v.funds.Transfer(depositor, v.addr, pool.cost); err != nil {
		return mixer.DepositEvent{}, err
	}
	ev, err := pool.Engine.Deposit(v.addr, commitment)
	if err != nil {
		if rerr := v.funds.Transfer(v.addr, depositor, pool.cost); rerr != nil {
			v.log.WithError(rerr).Error("deposit refund failed")
		}
		return mixer.DepositEvent{}, err
	}
	if !pool.Fee.IsZero() {
		// Only fails on 256-bit reward overflow, which bounded pool fees
		// cannot reach.
		if err := v.ledger.AddRewardsState(v.addr, asset, pool.Fee); err != nil {
			v.log.WithError(err).Error("fee accrual failed")
		}
	}

	metrics.DepositsTotal.WithLabelValues(asset.String()).Inc()
	metrics.AnonymitySetSize.WithLabelValues(asset.String()).Set(float64(pool.Engine.Size()))
	v.log.WithFields(logrus.Fields{
		"asset": asset.String(),
		"leaf":  ev.LeafIndex,
	}).Info("deposit accepted")

	if err := v.journalDeposit(asset, ev); err != nil {
		return ev, err
	}
	v.notify(asset, ev)
	return ev, nil
}

// Withdraw validates req against the asset's pool and pays the recipient
// one denomination. The nullifier burns before any funds move.
func (v *Vault) Withdraw(asset staking.Asset, req *mixer.WithdrawRequest) (common.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pool, ok := v.pools[asset]
	if !ok {
		return common.Address{}, ErrNoPool
	}

	recipient, err := pool.Engine.ValidateWithdraw(v.addr, req)
	if err != nil {
		metrics.WithdrawalsTotal.WithLabelValues(asset.String(), metrics.OutcomeFailed).Inc()
		return common.Address{}, err
	}
	// Journal the burned nullifier before paying; a replay after a crash
	// must never pay twice.
	if v.journal != nil {
		if jerr := v.journal.AppendNullifier(asset, req.NullifierHash()); jerr != nil {
			metrics.WithdrawalsTotal.WithLabelValues(asset.String(), metrics.OutcomeFailed).Inc()
			return common.Address{}, fmt.Errorf("%w: %v", ErrJournal, jerr)
		}
	}
	if err := v.funds.Transfer(v.addr, recipient, pool.Denomination); err != nil {
		// The vault holds one denomination per unspent leaf; reaching this
		// means the books are wrong.
		v.log.WithError(err).Error("withdraw payout failed")
		metrics.WithdrawalsTotal.WithLabelValues(asset.String(), metrics.OutcomeFailed).Inc()
		return recipient, err
	}

	metrics.WithdrawalsTotal.WithLabelValues(asset.String(), metrics.OutcomeOK).Inc()
	v.log.WithFields(logrus.Fields{
		"asset":     asset.String(),
		"recipient": recipient.Hex(),
	}).Info("withdrawal paid")
	return recipient, nil
}

// Stake escrows amount from the staker and opens a position.
func (v *Vault) Stake(asset staking.Asset, staker common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount == nil || amount.IsZero() {
		return staking.ErrZeroAmount
	}
	if err := v.funds.Transfer(staker, v.addr, amount); err != nil {
		metrics.StakeOpsTotal.WithLabelValues("stake", metrics.OutcomeFailed).Inc()
		return err
	}
	if err := v.ledger.StakeState(v.addr, asset, staker, amount); err != nil {
		if rerr := v.funds.Transfer(v.addr, staker, amount); rerr != nil {
			v.log.WithError(rerr).Error("stake refund failed")
		}
		metrics.StakeOpsTotal.WithLabelValues("stake", metrics.OutcomeFailed).Inc()
		return err
	}
	metrics.StakeOpsTotal.WithLabelValues("stake", metrics.OutcomeOK).Inc()
	v.log.WithFields(logrus.Fields{
		"asset":  asset.String(),
		"staker": staker.Hex(),
		"amount": amount.String(),
	}).Info("stake opened")
	return v.saveStaking()
}

// Unstake closes the staker's position and returns the principal.
func (v *Vault) Unstake(asset staking.Asset, staker common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	principal, err := v.ledger.UnstakeState(v.addr, asset, staker)
	if err != nil {
		metrics.StakeOpsTotal.WithLabelValues("unstake", metrics.OutcomeFailed).Inc()
		return nil, err
	}
	if err := v.funds.Transfer(v.addr, staker, principal); err != nil {
		v.log.WithError(err).Error("unstake payout failed")
		metrics.StakeOpsTotal.WithLabelValues("unstake", metrics.OutcomeFailed).Inc()
		return nil, err
	}
	metrics.StakeOpsTotal.WithLabelValues("unstake", metrics.OutcomeOK).Inc()
	v.log.WithFields(logrus.Fields{
		"asset":     asset.String(),
		"staker":    staker.Hex(),
		"principal": principal.String(),
	}).Info("stake closed")
	return principal, v.saveStaking()
}

// Claim settles the staker's share of a closed season's reward pool.
func (v *Vault) Claim(asset staking.Asset, staker common.Address, seasonID uint64) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	reward, err := v.ledger.ClaimState(v.addr, asset, staker, seasonID)
	if err != nil {
		metrics.StakeOpsTotal.WithLabelValues("claim", metrics.OutcomeFailed).Inc()
		return nil, err
	}
	if !reward.IsZero() {
		if err := v.funds.Transfer(v.addr, staker, reward); err != nil {
			v.log.WithError(err).Error("claim payout failed")
			metrics.StakeOpsTotal.WithLabelValues("claim", metrics.OutcomeFailed).Inc()
			return nil, err
		}
	}
	metrics.StakeOpsTotal.WithLabelValues("claim", metrics.OutcomeOK).Inc()
	v.log.WithFields(logrus.Fields{
		"asset":  asset.String(),
		"staker": staker.Hex(),
		"season": seasonID,
		"reward": reward.String(),
	}).Info("reward claimed")
	return reward, v.saveStaking()
}

// FundRewards moves amount from the funder into the vault and credits the
// open season's reward pool.
func (v *Vault) FundRewards(asset staking.Asset, funder common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount == nil || amount.IsZero() {
		return staking.ErrZeroAmount
	}
	if err := v.funds.Transfer(funder, v.addr, amount); err != nil {
		metrics.StakeOpsTotal.WithLabelValues("rewards", metrics.OutcomeFailed).Inc()
		return err
	}
	if err := v.ledger.AddRewardsState(v.addr, asset, amount); err != nil {
		if rerr := v.funds.Transfer(v.addr, funder, amount); rerr != nil {
			v.log.WithError(rerr).Error("rewards refund failed")
		}
		metrics.StakeOpsTotal.WithLabelValues("rewards", metrics.OutcomeFailed).Inc()
		return err
	}
	metrics.StakeOpsTotal.WithLabelValues("rewards", metrics.OutcomeOK).Inc()
	v.log.WithFields(logrus.Fields{
		"asset":  asset.String(),
		"amount": amount.String(),
	}).Info("rewards funded")
	return v.saveStaking()
}

// AdvanceSeason closes the elapsed season and opens the next one.
func (v *Vault) AdvanceSeason() (staking.Season, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	season, err := v.ledger.AdvanceSeason(v.addr)
	if err != nil {
		metrics.StakeOpsTotal.WithLabelValues("advance", metrics.OutcomeFailed).Inc()
		return staking.Season{}, err
	}
	metrics.StakeOpsTotal.WithLabelValues("advance", metrics.OutcomeOK).Inc()
	metrics.CurrentSeason.Set(float64(season.ID))
	v.log.WithFields(logrus.Fields{
		"season": season.ID,
		"start":  season.Start,
		"end":    season.End,
	}).Info("season advanced")
	return season, v.saveStaking()
}

// SetSeasonPeriod changes the duration used for seasons opened from now on.
func (v *Vault) SetSeasonPeriod(period time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ledger.SetSeasonPeriod(v.addr, period); err != nil {
		return err
	}
	return v.saveStaking()
}

// Subscribe registers a buffered deposit feed. Notices for slow consumers
// are dropped rather than stalling deposits; consumers detect the gap by
// leaf index and refetch. The cancel func is idempotent.
func (v *Vault) Subscribe(buffer int) (<-chan DepositNotice, func()) {
	if buffer < 1 {
		buffer = 1
	}
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	ch := make(chan DepositNotice, buffer)
	v.subs[id] = ch
	v.mu.Unlock()

	cancel := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if sub, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (v *Vault) notify(asset staking.Asset, ev mixer.DepositEvent) {
	for _, ch := range v.subs {
		select {
		case ch <- DepositNotice{Asset: asset, Event: ev}:
		default:
		}
	}
}

func (v *Vault) journalDeposit(asset staking.Asset, ev mixer.DepositEvent) error {
	if v.journal == nil {
		return nil
	}
	if err := v.journal.AppendDeposit(asset, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrJournal, err)
	}
	return nil
}

func (v *Vault) saveStaking() error {
	if v.journal == nil {
		return nil
	}
	snap, err := v.ledger.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJournal, err)
	}
	if err := v.journal.SaveStaking(snap); err != nil {
		return fmt.Errorf("%w: %v", ErrJournal, err)
	}
	return nil
}

// Address returns the vault's own account.
func (v *Vault) Address() common.Address { return v.addr }

// PoolAssets lists configured pools in stable order.
func (v *Vault) PoolAssets() []staking.Asset {
	v.mu.Lock()
	defer v.mu.Unlock()
	assets := make([]staking.Asset, 0, len(v.pools))
	for a := range v.pools {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}

// PoolInfo reports the asset's pool parameters and tree state.
func (v *Vault) PoolInfo(asset staking.Asset) (PoolInfo, error) {
	pool, err := v.pool(asset)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{
		Asset:        asset,
		Denomination: pool.Denomination.Clone(),
		Fee:          pool.Fee.Clone(),
		Size:         pool.Engine.Size(),
		Root:         pool.Engine.LastRoot(),
	}, nil
}

// LastRoot returns the asset tree's latest root.
func (v *Vault) LastRoot(asset staking.Asset) (fr.Element, error) {
	pool, err := v.pool(asset)
	if err != nil {
		return fr.Element{}, err
	}
	return pool.Engine.LastRoot(), nil
}

// IsKnownRoot reports whether root is inside the asset tree's history window.
func (v *Vault) IsKnownRoot(asset staking.Asset, root fr.Element) (bool, error) {
	pool, err := v.pool(asset)
	if err != nil {
		return false, err
	}
	return pool.Engine.IsKnownRoot(root), nil
}

// Events returns the asset's deposit log starting at leaf index from.
func (v *Vault) Events(asset staking.Asset, from int) ([]mixer.DepositEvent, error) {
	pool, err := v.pool(asset)
	if err != nil {
		return nil, err
	}
	return pool.Engine.Events(from), nil
}

// IsSpent reports whether the nullifier hash has been used in the asset's pool.
func (v *Vault) IsSpent(asset staking.Asset, nullifierHash fr.Element) (bool, error) {
	pool, err := v.pool(asset)
	if err != nil {
		return false, err
	}
	return pool.Engine.IsSpent(nullifierHash), nil
}

// CurrentSeason returns the open season.
func (v *Vault) CurrentSeason() staking.Season { return v.ledger.CurrentSeason() }

// SeasonByID returns a historical or current season.
func (v *Vault) SeasonByID(id uint64) (staking.Season, error) { return v.ledger.SeasonByID(id) }

// Position returns the staker's open position for the asset, if any.
func (v *Vault) Position(asset staking.Asset, staker common.Address) (staking.Position, bool) {
	return v.ledger.PositionOf(asset, staker)
}

func (v *Vault) pool(asset staking.Asset) (*Pool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pool, ok := v.pools[asset]
	if !ok {
		return nil, ErrNoPool
	}
	return pool, nil
}

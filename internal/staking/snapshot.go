// snapshot.go - JSON snapshot of the full ledger state for the journal.

package staking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type totalsSnapshot struct {
	Staked *uint256.Int `json:"staked"`
	Reward *uint256.Int `json:"reward"`
	Weight *uint256.Int `json:"weight"`
}

type seasonSnapshot struct {
	ID     uint64                    `json:"id"`
	Start  uint64                    `json:"start"`
	End    uint64                    `json:"end"`
	Period uint64                    `json:"period"`
	Totals map[string]totalsSnapshot `json:"totals"`
}

type positionSnapshot struct {
	Staker    common.Address `json:"staker"`
	Asset     string         `json:"asset"`
	Season    uint64         `json:"season"`
	StakedAt  uint64         `json:"stakedAt"`
	Principal *uint256.Int   `json:"principal"`
	Weight    *uint256.Int   `json:"weight"`
}

type claimSnapshot struct {
	Staker common.Address `json:"staker"`
	Asset  string         `json:"asset"`
	Season uint64         `json:"season"`
}

type ledgerSnapshot struct {
	Period    uint64             `json:"period"`
	Seasons   []seasonSnapshot   `json:"seasons"`
	Positions []positionSnapshot `json:"positions"`
	Claims    []claimSnapshot    `json:"claims"`
}

// Snapshot serializes the full ledger state.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := ledgerSnapshot{Period: l.period}
	for _, s := range l.seasons {
		ss := seasonSnapshot{
			ID:     s.ID,
			Start:  s.Start,
			End:    s.End,
			Period: s.Period,
			Totals: make(map[string]totalsSnapshot, int(assetCount)),
		}
		for a := Asset(0); a < assetCount; a++ {
			tot := s.Totals[a]
			ss.Totals[a.String()] = totalsSnapshot{
				Staked: tot.Staked.Clone(),
				Reward: tot.Reward.Clone(),
				Weight: tot.Weight.Clone(),
			}
		}
		snap.Seasons = append(snap.Seasons, ss)
	}
	for key, pos := range l.positions {
		snap.Positions = append(snap.Positions, positionSnapshot{
			Staker:    key.Staker,
			Asset:     key.Asset.String(),
			Season:    pos.Season,
			StakedAt:  pos.StakedAt,
			Principal: pos.Principal.Clone(),
			Weight:    pos.Weight.Clone(),
		})
	}
	for key := range l.claimed {
		snap.Claims = append(snap.Claims, claimSnapshot{
			Staker: key.Staker,
			Asset:  key.Asset.String(),
			Season: key.Season,
		})
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		a, b := snap.Positions[i], snap.Positions[j]
		if a.Staker != b.Staker {
			return bytes.Compare(a.Staker[:], b.Staker[:]) < 0
		}
		return a.Asset < b.Asset
	})
	sort.Slice(snap.Claims, func(i, j int) bool {
		a, b := snap.Claims[i], snap.Claims[j]
		if a.Staker != b.Staker {
			return bytes.Compare(a.Staker[:], b.Staker[:]) < 0
		}
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Season < b.Season
	})

	return json.MarshalIndent(snap, "", "  ")
}

// RestoreSnapshot replaces the ledger state with a serialized snapshot.
func (l *Ledger) RestoreSnapshot(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var snap ledgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("staking: decode snapshot: %w", err)
	}
	if snap.Period == 0 {
		return ErrZeroPeriod
	}
	if len(snap.Seasons) == 0 {
		return fmt.Errorf("staking: snapshot carries no seasons")
	}

	seasons := make([]*Season, 0, len(snap.Seasons))
	for i, ss := range snap.Seasons {
		if ss.ID != uint64(i+1) {
			return fmt.Errorf("staking: snapshot season %d out of order", ss.ID)
		}
		s := &Season{ID: ss.ID, Start: ss.Start, End: ss.End, Period: ss.Period}
		for name, tot := range ss.Totals {
			a, ok := ParseAsset(name)
			if !ok {
				return fmt.Errorf("staking: snapshot names unknown asset %q", name)
			}
			if tot.Staked != nil {
				s.Totals[a].Staked = *tot.Staked
			}
			if tot.Reward != nil {
				s.Totals[a].Reward = *tot.Reward
			}
			if tot.Weight != nil {
				s.Totals[a].Weight = *tot.Weight
			}
		}
		seasons = append(seasons, s)
	}

	positions := make(map[positionKey]*Position, len(snap.Positions))
	for _, ps := range snap.Positions {
		a, ok := ParseAsset(ps.Asset)
		if !ok {
			return fmt.Errorf("staking: snapshot names unknown asset %q", ps.Asset)
		}
		pos := &Position{Season: ps.Season, StakedAt: ps.StakedAt}
		if ps.Principal != nil {
			pos.Principal = *ps.Principal
		}
		if ps.Weight != nil {
			pos.Weight = *ps.Weight
		}
		positions[positionKey{Staker: ps.Staker, Asset: a}] = pos
	}

	claimed := make(map[claimKey]bool, len(snap.Claims))
	for _, cs := range snap.Claims {
		a, ok := ParseAsset(cs.Asset)
		if !ok {
			return fmt.Errorf("staking: snapshot names unknown asset %q", cs.Asset)
		}
		claimed[claimKey{Staker: cs.Staker, Asset: a, Season: cs.Season}] = true
	}

	l.period = snap.Period
	l.seasons = seasons
	l.positions = positions
	l.claimed = claimed
	return nil
}

// season.go - Seasons, asset tags, and the day-weight arithmetic.

package staking

import (
	"github.com/holiman/uint256"
)

// SecondsPerDay scales stake-seconds into day-weights.
const SecondsPerDay = 86400

// Asset tags every aggregate, position, and claim.
type Asset uint8

const (
	Native Asset = iota
	Token

	assetCount
)

// String returns the wire name of the asset.
func (a Asset) String() string {
	switch a {
	case Native:
		return "native"
	case Token:
		return "token"
	}
	return "unknown"
}

// Valid reports whether a names a known asset.
func (a Asset) Valid() bool { return a < assetCount }

// ParseAsset maps a wire name back to its tag.
func ParseAsset(s string) (Asset, bool) {
	switch s {
	case "native":
		return Native, true
	case "token":
		return Token, true
	}
	return 0, false
}

// Assets lists every known asset tag.
func Assets() []Asset {
	out := make([]Asset, 0, assetCount)
	for a := Asset(0); a < assetCount; a++ {
		out = append(out, a)
	}
	return out
}

// Totals are one season's aggregates for one asset.
type Totals struct {
	Staked uint256.Int
	Reward uint256.Int
	Weight uint256.Int
}

// Season is one reward window. Period is pinned when the season opens;
// later period changes apply to seasons opened afterwards.
type Season struct {
	ID     uint64
	Start  uint64
	End    uint64
	Period uint64
	Totals [assetCount]Totals
}

// TotalsOf returns the season's aggregates for one asset.
func (s Season) TotalsOf(a Asset) Totals { return s.Totals[a] }

// Position is one staker's open stake for one asset.
type Position struct {
	Season    uint64
	StakedAt  uint64
	Principal uint256.Int
	Weight    uint256.Int
}

// timeWeight computes amount × seconds ÷ SecondsPerDay, rejecting
// overflow of the 256-bit product.
func timeWeight(amount *uint256.Int, seconds uint64) (uint256.Int, error) {
	var prod uint256.Int
	if _, overflow := prod.MulOverflow(amount, uint256.NewInt(seconds)); overflow {
		return uint256.Int{}, ErrAmountOverflow
	}
	var w uint256.Int
	w.Div(&prod, uint256.NewInt(SecondsPerDay))
	return w, nil
}

// subClamp subtracts x from z in place, clamping at zero.
func subClamp(z, x *uint256.Int) {
	if z.Lt(x) {
		z.Clear()
	} else {
		z.Sub(z, x)
	}
}

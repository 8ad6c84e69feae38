// errors.go - Sentinel failures for ledger operations.

package staking

import "errors"

var (
	// ErrNotVault rejects callers other than the configured vault.
	ErrNotVault = errors.New("staking: caller is not the vault")

	// ErrUnknownAsset rejects asset tags outside the known set.
	ErrUnknownAsset = errors.New("staking: unknown asset")

	// ErrZeroAmount rejects zero or missing amounts.
	ErrZeroAmount = errors.New("staking: amount must be positive")

	// ErrZeroPeriod rejects a zero season period.
	ErrZeroPeriod = errors.New("staking: season period must be positive")

	// ErrAmountOverflow rejects arithmetic that leaves 256 bits.
	ErrAmountOverflow = errors.New("staking: 256-bit arithmetic overflow")

	// ErrAlreadyStaked rejects a second open position per staker and asset.
	ErrAlreadyStaked = errors.New("staking: position already open")

	// ErrSeasonOver rejects stakes placed after the current season ended.
	ErrSeasonOver = errors.New("staking: current season has ended, advance it first")

	// ErrSeasonNotOver rejects advancing a season still in progress.
	ErrSeasonNotOver = errors.New("staking: current season has not ended")

	// ErrNoSuchSeason rejects season ids outside 1..current.
	ErrNoSuchSeason = errors.New("staking: no such season")

	// ErrSeasonNotClosed rejects claims against a season still open.
	ErrSeasonNotClosed = errors.New("staking: season is still open")

	// ErrNoPosition rejects operations that need an open position.
	ErrNoPosition = errors.New("staking: no open position")

	// ErrNotEligible rejects claims for seasons before the position existed.
	ErrNotEligible = errors.New("staking: position opened after the claimed season")

	// ErrNoWeight rejects claims where either weight term is zero.
	ErrNoWeight = errors.New("staking: zero weight for the season")

	// ErrAlreadyClaimed rejects a second claim per staker, asset and season.
	ErrAlreadyClaimed = errors.New("staking: season already claimed")
)

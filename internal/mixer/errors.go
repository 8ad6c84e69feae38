// errors.go - Sentinel failures for engine operations.

package mixer

import "errors"

var (
	// ErrNotVault rejects callers other than the configured vault.
	ErrNotVault = errors.New("mixer: caller is not the vault")

	// ErrCommitmentSeen rejects a commitment already in the anonymity set.
	ErrCommitmentSeen = errors.New("mixer: commitment already submitted")

	// ErrNullifierSpent rejects a withdrawal whose nullifier hash was
	// already used.
	ErrNullifierSpent = errors.New("mixer: note already spent")

	// ErrInvalidProof rejects a proof the verifying key does not accept.
	ErrInvalidProof = errors.New("mixer: invalid withdrawal proof")

	// ErrUnknownRoot rejects proofs built against roots outside the
	// recent window.
	ErrUnknownRoot = errors.New("mixer: unknown or stale merkle root")
)

// engine.go - Anonymity-set engine: commitment registry, nullifier set,
// and proof-gated withdrawal validation for one pool.

package mixer

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/merkle"
)

// NumPublicSignals is the fixed length of the public-signal vector.
const NumPublicSignals = 3

// Positions inside the public-signal vector.
const (
	SignalNullifierHash = 0
	SignalRecipient     = 1
	SignalRoot          = 2
)

// Proof is a Groth16 proof: two G1 points and one G2 point.
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// WithdrawRequest carries a proof and its public signals in the fixed
// [nullifierHash, recipient, root] layout.
type WithdrawRequest struct {
	Proof   Proof
	Signals [NumPublicSignals]fr.Element
}

// NullifierHash returns the spend marker signal.
func (r *WithdrawRequest) NullifierHash() fr.Element { return r.Signals[SignalNullifierHash] }

// Root returns the merkle root signal.
func (r *WithdrawRequest) Root() fr.Element { return r.Signals[SignalRoot] }

// Recipient decodes the address embedded in the recipient signal.
func (r *WithdrawRequest) Recipient() common.Address {
	return FieldToAddress(r.Signals[SignalRecipient])
}

// Verifier checks a proof against the public signals.
type Verifier interface {
	Verify(proof *Proof, signals []fr.Element) bool
}

// DepositEvent records one accepted deposit. The leaf index doubles as
// the event's position in the log.
type DepositEvent struct {
	Commitment fr.Element
	LeafIndex  uint32
	Timestamp  int64
}

// Engine ties one pool's tree to its commitment and nullifier
// registries. Every mutating call must come from the vault.
type Engine struct {
	mu          sync.Mutex
	vault       common.Address
	tree        *merkle.Tree
	verifier    Verifier
	commitments map[fr.Element]struct{}
	nullifiers  map[fr.Element]struct{}
	events      []DepositEvent
	clock       func() time.Time
}

// NewEngine builds an engine authorized to the given vault address.
// A nil clock means time.Now.
func NewEngine(vault common.Address, levels, rootHistory int, verifier Verifier, clock func() time.Time) (*Engine, error) {
	if verifier == nil {
		return nil, fmt.Errorf("mixer: a verifier is required")
	}
	tree, err := merkle.NewTree(levels, rootHistory, merkle.MiMCHash)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		vault:       vault,
		tree:        tree,
		verifier:    verifier,
		commitments: make(map[fr.Element]struct{}),
		nullifiers:  make(map[fr.Element]struct{}),
		clock:       clock,
	}, nil
}

// Deposit registers a new commitment and returns its event record.
func (e *Engine) Deposit(caller common.Address, commitment fr.Element) (DepositEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.vault {
		return DepositEvent{}, ErrNotVault
	}
	if _, seen := e.commitments[commitment]; seen {
		return DepositEvent{}, ErrCommitmentSeen
	}
	index, err := e.tree.Insert(commitment)
	if err != nil {
		return DepositEvent{}, err
	}
	ev := DepositEvent{Commitment: commitment, LeafIndex: index, Timestamp: e.clock().Unix()}
	e.commitments[commitment] = struct{}{}
	e.events = append(e.events, ev)
	return ev, nil
}

// ValidateWithdraw runs the withdrawal checks in their fixed order:
// nullifier unseen, proof valid, root known. On success it marks the
// nullifier hash spent and returns the recipient. A failed validation
// leaves the engine untouched, so retrying a failing request fails the
// same way.
func (e *Engine) ValidateWithdraw(caller common.Address, req *WithdrawRequest) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.vault {
		return common.Address{}, ErrNotVault
	}
	nh := req.Signals[SignalNullifierHash]
	if _, spent := e.nullifiers[nh]; spent {
		return common.Address{}, ErrNullifierSpent
	}
	if !e.verifier.Verify(&req.Proof, req.Signals[:]) {
		return common.Address{}, ErrInvalidProof
	}
	if !e.tree.IsKnownRoot(req.Signals[SignalRoot]) {
		return common.Address{}, ErrUnknownRoot
	}
	e.nullifiers[nh] = struct{}{}
	return FieldToAddress(req.Signals[SignalRecipient]), nil
}

// IsSpent reports whether a nullifier hash has been used.
func (e *Engine) IsSpent(nullifierHash fr.Element) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, spent := e.nullifiers[nullifierHash]
	return spent
}

// Events returns a copy of the deposit log starting at from.
func (e *Engine) Events(from int) []DepositEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(e.events) {
		return nil
	}
	out := make([]DepositEvent, len(e.events)-from)
	copy(out, e.events[from:])
	return out
}

// Size returns the number of deposits accepted so far.
func (e *Engine) Size() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Size()
}

// LastRoot returns the current tree root.
func (e *Engine) LastRoot() fr.Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.LastRoot()
}

// IsKnownRoot reports whether the tree recently produced root r.
func (e *Engine) IsKnownRoot(r fr.Element) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.IsKnownRoot(r)
}

// Restore replays journaled deposits and spent nullifiers into a fresh
// engine. It must run before the engine serves traffic.
func (e *Engine) Restore(events []DepositEvent, spent []fr.Element) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) != 0 {
		return fmt.Errorf("mixer: restore on a non-empty engine")
	}
	for _, ev := range events {
		if _, seen := e.commitments[ev.Commitment]; seen {
			return fmt.Errorf("mixer: journal replays commitment %s twice", ev.Commitment.String())
		}
		index, err := e.tree.Insert(ev.Commitment)
		if err != nil {
			return err
		}
		if index != ev.LeafIndex {
			return fmt.Errorf("mixer: journal gap, expected leaf %d, got %d", index, ev.LeafIndex)
		}
		e.commitments[ev.Commitment] = struct{}{}
		e.events = append(e.events, ev)
	}
	for _, nh := range spent {
		e.nullifiers[nh] = struct{}{}
	}
	return nil
}

// AddressToField embeds a 20-byte address into a field element.
func AddressToField(addr common.Address) fr.Element {
	var v fr.Element
	v.SetBytes(addr[:])
	return v
}

// FieldToAddress truncates a field element to its low 20 bytes.
func FieldToAddress(v fr.Element) common.Address {
	var b big.Int
	v.BigInt(&b)
	return common.BigToAddress(&b)
}

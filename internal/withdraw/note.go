// note.go - Deposit notes: the secret preimages behind pool commitments.

package withdraw

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/merkle"
)

// Note is the withdrawal credential for a single deposit. The commitment is
// published to the pool; secret and nullifier never leave the depositor.
type Note struct {
	Secret    fr.Element
	Nullifier fr.Element
}

// NewNote draws a fresh note from crypto/rand.
func NewNote() (*Note, error) {
	var n Note
	if _, err := n.Secret.SetRandom(); err != nil {
		return nil, fmt.Errorf("note secret: %w", err)
	}
	if _, err := n.Nullifier.SetRandom(); err != nil {
		return nil, fmt.Errorf("note nullifier: %w", err)
	}
	return &n, nil
}

// Commitment derives the public leaf H(secret, nullifier).
func (n *Note) Commitment() fr.Element {
	return merkle.MiMCHash(n.Secret, n.Nullifier)
}

// NullifierHash derives the spend tag H(nullifier, 0) published at withdrawal.
func (n *Note) NullifierHash() fr.Element {
	var zero fr.Element
	return merkle.MiMCHash(n.Nullifier, zero)
}

// noteJSON is the portable form handed to depositors for safekeeping.
type noteJSON struct {
	Secret    string `json:"secret"`
	Nullifier string `json:"nullifier"`
}

// MarshalJSON encodes both scalars as decimal strings.
func (n *Note) MarshalJSON() ([]byte, error) {
	return json.Marshal(noteJSON{
		Secret:    n.Secret.String(),
		Nullifier: n.Nullifier.String(),
	})
}

// UnmarshalJSON parses the decimal form produced by MarshalJSON.
func (n *Note) UnmarshalJSON(data []byte) error {
	var raw noteJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	secret, ok := new(big.Int).SetString(raw.Secret, 10)
	if !ok {
		return fmt.Errorf("malformed note secret %q", raw.Secret)
	}
	nullifier, ok := new(big.Int).SetString(raw.Nullifier, 10)
	if !ok {
		return fmt.Errorf("malformed note nullifier %q", raw.Nullifier)
	}
	n.Secret.SetBigInt(secret)
	n.Nullifier.SetBigInt(nullifier)
	return nil
}

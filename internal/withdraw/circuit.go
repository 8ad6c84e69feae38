// circuit.go - Groth16 membership circuit for shielded withdrawals.

package withdraw

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/merkle"
)

// TreeLevels is the tree depth the circuit is compiled for. Pool trees must
// use the same depth; proofs built against any other depth do not verify.
const TreeLevels = merkle.DefaultLevels

// CircuitWithdraw proves knowledge of a note (secret, nullifier) whose
// commitment H(secret, nullifier) sits at LeafIndex under Root, and that
// NullifierHash = H(nullifier, 0). Recipient is bound into the statement so
// a relayer cannot redirect the payout.
type CircuitWithdraw struct {
	// Public inputs
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Root          frontend.Variable `gnark:",public"`

	// Private inputs
	Secret    frontend.Variable
	Nullifier frontend.Variable
	LeafIndex frontend.Variable
	Path      [TreeLevels]frontend.Variable
}

func (c *CircuitWithdraw) Define(api frontend.API) error {
	// Step 1: Nullifier hash (nh = H(nullifier, 0), prevents double-spending)
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(c.Nullifier)
	hasher.Write(0)
	api.AssertIsEqual(c.NullifierHash, hasher.Sum())

	// Step 2: Commitment (cm = H(secret, nullifier))
	hasher.Reset()
	hasher.Write(c.Secret)
	hasher.Write(c.Nullifier)
	cur := hasher.Sum()

	// Step 3: Fold the Merkle path leaf-to-root. Bit i of LeafIndex selects
	// the side the running hash takes at level i.
	bits := api.ToBinary(c.LeafIndex, TreeLevels)
	for i := 0; i < TreeLevels; i++ {
		left := api.Select(bits[i], c.Path[i], cur)
		right := api.Select(bits[i], cur, c.Path[i])
		hasher.Reset()
		hasher.Write(left)
		hasher.Write(right)
		cur = hasher.Sum()
	}
	api.AssertIsEqual(c.Root, cur)

	// Step 4: Constrain the recipient (prevents proof replay to another address)
	api.Mul(c.Recipient, c.Recipient)

	return nil
}

// withdraw.go - Proof generation and verification for shielded withdrawals.
//
// Proving runs client-side against the full leaf set and the depositor's
// note. Only the verifying key and the three public signals reach the pool.
//
// WARNING: All cryptographic operations must use secure randomness. Proving
// keys produced by an untrusted ceremony break soundness for every pool
// sharing them.

package withdraw

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/merkle"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/mixer"
)

// Compile builds the R1CS for the withdrawal circuit.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit CircuitWithdraw
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Prove builds a withdrawal request spending note toward recipient.
// Steps:
//  1. Rebuild the Merkle path for the note's leaf from the full leaf set
//  2. Assemble the witness (public signals + private opening)
//  3. Run the Groth16 prover
//  4. Extract the three proof points into the wire shape
func Prove(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, note *Note, recipient common.Address, leafIndex uint32, leaves []fr.Element) (*mixer.WithdrawRequest, error) {
	// Step 1: Rebuild the Merkle path for the note's leaf.
	path, root, err := merkle.Path(leaves, leafIndex, TreeLevels, merkle.MiMCHash)
	if err != nil {
		return nil, fmt.Errorf("merkle path: %w", err)
	}

	// Step 2: Assemble the witness.
	nullifierHash := note.NullifierHash()
	payee := mixer.AddressToField(recipient)
	assignment := &CircuitWithdraw{
		NullifierHash: nullifierHash,
		Recipient:     payee,
		Root:          root,
		Secret:        note.Secret,
		Nullifier:     note.Nullifier,
		LeafIndex:     leafIndex,
	}
	for i := range path {
		assignment.Path[i] = path[i]
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}

	// Step 3: Prove.
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}

	// Step 4: Extract the affine points.
	p, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unexpected proof backend %T", proof)
	}
	req := &mixer.WithdrawRequest{
		Proof: mixer.Proof{A: p.Ar, B: p.Bs, C: p.Krs},
	}
	req.Signals[mixer.SignalNullifierHash] = nullifierHash
	req.Signals[mixer.SignalRecipient] = payee
	req.Signals[mixer.SignalRoot] = root
	return req, nil
}

// Groth16Verifier checks withdrawal proofs against a fixed verifying key.
// It is the production implementation of the pool engine's Verifier.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier wraps vk for use by pool engines.
func NewGroth16Verifier(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

// Verify reports whether proof is valid for the given public signals.
// Malformed input counts as an invalid proof.
func (v *Groth16Verifier) Verify(proof *mixer.Proof, signals []fr.Element) bool {
	if proof == nil || len(signals) != mixer.NumPublicSignals {
		return false
	}
	assignment := &CircuitWithdraw{
		NullifierHash: signals[mixer.SignalNullifierHash],
		Recipient:     signals[mixer.SignalRecipient],
		Root:          signals[mixer.SignalRoot],
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false
	}
	var p groth16bn254.Proof
	p.Ar, p.Bs, p.Krs = proof.A, proof.B, proof.C
	return groth16.Verify(&p, v.vk, w) == nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If both keys exist on disk, loads them; otherwise, generates and saves new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	// Generate keys
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// Fingerprint returns a short hex digest of a serialized key. Logged at
// startup so operators can confirm prover and pool share one ceremony.
func Fingerprint(k io.WriterTo) (string, error) {
	h := sha256.New()
	if _, err := k.WriteTo(h); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)[:8]), nil
}

package mixerv2

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/merkle"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/metrics"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/mixer"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/staking"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/store"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/vault"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/withdraw"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

var (
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob       = common.HexToAddress("0x2000000000000000000000000000000000000002")
	payee     = common.HexToAddress("0x3000000000000000000000000000000000000003")
	attacker  = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

// The circuit compiles and runs trusted setup once for the whole suite.
var (
	rigOnce sync.Once
	rigErr  error
	rigCCS  constraint.ConstraintSystem
	rigPK   groth16.ProvingKey
	rigVK   groth16.VerifyingKey
)

func circuitRig(t *testing.T) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	rigOnce.Do(func() {
		rigCCS, rigErr = withdraw.Compile()
		if rigErr != nil {
			return
		}
		rigPK, rigVK, rigErr = groth16.Setup(rigCCS)
	})
	if rigErr != nil {
		t.Fatalf("circuit setup failed: %v", rigErr)
	}
	return rigCCS, rigPK, rigVK
}

type manualClock struct {
	at int64
}

func (c *manualClock) Now() time.Time { return time.Unix(c.at, 0) }

type testVault struct {
	vault *vault.Vault
	bank  *vault.Bank
	clock *manualClock
}

// newTestVault wires a vault with a real Groth16 verifier, a native pool
// (denomination 100, fee 3), and a funded depositor.
func newTestVault(t *testing.T, rootHistory int, journal *store.Store) *testVault {
	t.Helper()
	_, _, vk := circuitRig(t)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	clock := &manualClock{at: 1_700_000_000}

	bank := vault.NewBank()
	ledger, err := staking.NewLedger(vaultAddr, 240*time.Hour, clock.Now)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	cfg := vault.Config{
		Address: vaultAddr,
		Funds:   bank,
		Staking: ledger,
		Log:     log,
	}
	if journal != nil {
		cfg.Journal = journal
	}
	v, err := vault.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	verifier := metrics.TimedVerifier{Inner: withdraw.NewGroth16Verifier(vk)}
	engine, err := mixer.NewEngine(vaultAddr, withdraw.TreeLevels, rootHistory, verifier, clock.Now)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := v.AddPool(staking.Native, engine, uint256.NewInt(100), uint256.NewInt(3)); err != nil {
		t.Fatalf("AddPool: %v", err)
	}
	for _, acct := range []common.Address{alice, bob} {
		if err := bank.Mint(acct, uint256.NewInt(10_000)); err != nil {
			t.Fatalf("Mint: %v", err)
		}
	}
	return &testVault{vault: v, bank: bank, clock: clock}
}

func mustNote(t *testing.T) *withdraw.Note {
	t.Helper()
	note, err := withdraw.NewNote()
	if err != nil {
		t.Fatalf("NewNote: %v", err)
	}
	return note
}

func mustDeposit(t *testing.T, tv *testVault, note *withdraw.Note) mixer.DepositEvent {
	t.Helper()
	ev, err := tv.vault.Deposit(staking.Native, alice, note.Commitment())
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	return ev
}

// leavesOf rebuilds the leaf slice the way a client does, from the event log.
func leavesOf(t *testing.T, tv *testVault) []fr.Element {
	t.Helper()
	events, err := tv.vault.Events(staking.Native, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	leaves := make([]fr.Element, len(events))
	for i, ev := range events {
		leaves[i] = ev.Commitment
	}
	return leaves
}

func mustProve(t *testing.T, tv *testVault, note *withdraw.Note, recipient common.Address, leafIndex uint32) *mixer.WithdrawRequest {
	t.Helper()
	ccs, pk, _ := circuitRig(t)
	req, err := withdraw.Prove(ccs, pk, note, recipient, leafIndex, leavesOf(t, tv))
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	return req
}

func balanceOf(tv *testVault, addr common.Address) uint64 {
	return tv.bank.BalanceOf(addr).Uint64()
}

// =============================================================================
// 1. INFRASTRUCTURE/BUILDING BLOCK TESTS
// =============================================================================

func TestCryptographicPrimitives(t *testing.T) {
	t.Run("MiMC Hash Function", func(t *testing.T) {
		a := fr.NewElement(12345)
		b := fr.NewElement(67890)

		h1 := merkle.MiMCHash(a, b)
		h2 := merkle.MiMCHash(a, b)
		h3 := merkle.MiMCHash(b, a)

		if !h1.Equal(&h2) {
			t.Error("MiMC hash is not deterministic")
		}
		if h1.Equal(&h3) {
			t.Error("MiMC hash ignores argument order")
		}
	})

	t.Run("Note Derivations", func(t *testing.T) {
		note := mustNote(t)
		commitment := note.Commitment()
		nullifierHash := note.NullifierHash()

		if commitment.Equal(&nullifierHash) {
			t.Error("commitment and nullifier hash must differ")
		}

		other := mustNote(t)
		otherCommitment := other.Commitment()
		if commitment.Equal(&otherCommitment) {
			t.Error("two random notes produced the same commitment")
		}
	})

	t.Run("Address Field Round Trip", func(t *testing.T) {
		v := mixer.AddressToField(payee)
		if got := mixer.FieldToAddress(v); got != payee {
			t.Errorf("address round trip failed: %s != %s", got, payee)
		}
	})
}

// =============================================================================
// 2. CIRCUIT TESTS
// =============================================================================

func TestCircuitWithdraw(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping circuit setup in short mode")
	}
	tv := newTestVault(t, 30, nil)
	notes := []*withdraw.Note{mustNote(t), mustNote(t)}
	for _, n := range notes {
		mustDeposit(t, tv, n)
	}

	req := mustProve(t, tv, notes[0], payee, 0)
	verifier := withdraw.NewGroth16Verifier(rigVK)
	if !verifier.Verify(&req.Proof, req.Signals[:]) {
		t.Fatal("honest proof must verify")
	}

	root, _ := tv.vault.LastRoot(staking.Native)
	reqRoot := req.Root()
	if !reqRoot.Equal(&root) {
		t.Error("proof root must match the tree root")
	}
	wantHash := notes[0].NullifierHash()
	gotHash := req.NullifierHash()
	if !gotHash.Equal(&wantHash) {
		t.Error("proof nullifier hash must match the note derivation")
	}
}

// =============================================================================
// 3. PROTOCOL FLOW TESTS
// =============================================================================

func TestDepositWithdrawFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping proof generation in short mode")
	}
	tv := newTestVault(t, 30, nil)

	// Phase 1: three depositors build the anonymity set.
	notes := []*withdraw.Note{mustNote(t), mustNote(t), mustNote(t)}
	for i, n := range notes {
		ev := mustDeposit(t, tv, n)
		if ev.LeafIndex != uint32(i) {
			t.Fatalf("expected leaf %d, got %d", i, ev.LeafIndex)
		}
	}
	if got := balanceOf(tv, vaultAddr); got != 3*103 {
		t.Fatalf("vault must escrow three deposits, has %d", got)
	}

	// Phase 2: the middle note withdraws to a fresh address.
	req := mustProve(t, tv, notes[1], payee, 1)
	recipient, err := tv.vault.Withdraw(staking.Native, req)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if recipient != payee {
		t.Fatalf("expected payout to %s, got %s", payee, recipient)
	}

	// Phase 3: the books balance. The vault keeps two denominations in
	// escrow plus all fees; nothing is created or destroyed.
	if got := balanceOf(tv, payee); got != 100 {
		t.Errorf("recipient must hold one denomination, has %d", got)
	}
	if got := balanceOf(tv, vaultAddr); got != 2*100+3*3 {
		t.Errorf("vault must hold the remaining escrow, has %d", got)
	}
	total := balanceOf(tv, alice) + balanceOf(tv, bob) + balanceOf(tv, payee) + balanceOf(tv, vaultAddr)
	if total != 20_000 {
		t.Errorf("funds must be conserved, total %d", total)
	}

	t.Run("spent nullifier is visible", func(t *testing.T) {
		spent, err := tv.vault.IsSpent(staking.Native, notes[1].NullifierHash())
		if err != nil || !spent {
			t.Errorf("withdrawn nullifier must be spent (%v)", err)
		}
	})

	t.Run("proof against an older root stays valid within the window", func(t *testing.T) {
		req := mustProve(t, tv, notes[0], payee, 0)
		mustDeposit(t, tv, mustNote(t))
		if _, err := tv.vault.Withdraw(staking.Native, req); err != nil {
			t.Fatalf("a root one deposit old must still verify: %v", err)
		}
	})
}

// =============================================================================
// 4. SECURITY PROPERTIES
// =============================================================================

func TestSecurityProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping proof generation in short mode")
	}

	t.Run("Double Spending Prevention", func(t *testing.T) {
		tv := newTestVault(t, 30, nil)
		note := mustNote(t)
		mustDeposit(t, tv, note)

		req := mustProve(t, tv, note, payee, 0)
		if _, err := tv.vault.Withdraw(staking.Native, req); err != nil {
			t.Fatalf("first spend: %v", err)
		}
		if _, err := tv.vault.Withdraw(staking.Native, req); !errors.Is(err, mixer.ErrNullifierSpent) {
			t.Fatalf("expected ErrNullifierSpent, got %v", err)
		}
		if got := balanceOf(tv, payee); got != 100 {
			t.Errorf("double spend must not pay twice, recipient has %d", got)
		}
	})

	t.Run("Proof Bound To Recipient", func(t *testing.T) {
		tv := newTestVault(t, 30, nil)
		note := mustNote(t)
		mustDeposit(t, tv, note)

		req := mustProve(t, tv, note, payee, 0)
		req.Signals[mixer.SignalRecipient] = mixer.AddressToField(attacker)
		if _, err := tv.vault.Withdraw(staking.Native, req); !errors.Is(err, mixer.ErrInvalidProof) {
			t.Fatalf("expected ErrInvalidProof, got %v", err)
		}
		if got := balanceOf(tv, attacker); got != 0 {
			t.Errorf("redirected withdrawal must not pay, attacker has %d", got)
		}
	})

	t.Run("Stale Root Rejection", func(t *testing.T) {
		tv := newTestVault(t, 2, nil)
		note := mustNote(t)
		mustDeposit(t, tv, note)

		req := mustProve(t, tv, note, payee, 0)
		// Two more deposits rotate the proof's root out of the window.
		mustDeposit(t, tv, mustNote(t))
		mustDeposit(t, tv, mustNote(t))
		if _, err := tv.vault.Withdraw(staking.Native, req); !errors.Is(err, mixer.ErrUnknownRoot) {
			t.Fatalf("expected ErrUnknownRoot, got %v", err)
		}
	})

	t.Run("Foreign Caller Rejected", func(t *testing.T) {
		_, _, vk := circuitRig(t)
		clock := &manualClock{at: 1_700_000_000}
		engine, err := mixer.NewEngine(vaultAddr, withdraw.TreeLevels, 30, withdraw.NewGroth16Verifier(vk), clock.Now)
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		if _, err := engine.Deposit(attacker, fr.NewElement(1)); !errors.Is(err, mixer.ErrNotVault) {
			t.Fatalf("expected ErrNotVault, got %v", err)
		}
	})
}

// =============================================================================
// 5. PERSISTENCE
// =============================================================================

func TestJournalReplay(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping proof generation in short mode")
	}
	path := filepath.Join(t.TempDir(), "journal")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// First life: two deposits, one withdrawal, one stake.
	tv := newTestVault(t, 30, db)
	notes := []*withdraw.Note{mustNote(t), mustNote(t)}
	for _, n := range notes {
		mustDeposit(t, tv, n)
	}
	req := mustProve(t, tv, notes[0], payee, 0)
	if _, err := tv.vault.Withdraw(staking.Native, req); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if err := tv.vault.Stake(staking.Native, bob, uint256.NewInt(500)); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	rootBefore, _ := tv.vault.LastRoot(staking.Native)
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Second life: rebuild everything from the journal.
	db, err = store.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	_, _, vk := circuitRig(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	clock := &manualClock{at: 1_700_000_000}

	ledger, err := staking.NewLedger(vaultAddr, 240*time.Hour, clock.Now)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	snapshot, err := db.LoadStaking()
	if err != nil {
		t.Fatalf("LoadStaking: %v", err)
	}
	if err := ledger.RestoreSnapshot(snapshot); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	restored, err := vault.New(vault.Config{
		Address: vaultAddr,
		Funds:   vault.NewBank(),
		Staking: ledger,
		Journal: db,
		Log:     log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	engine, err := mixer.NewEngine(vaultAddr, withdraw.TreeLevels, 30, withdraw.NewGroth16Verifier(vk), clock.Now)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	events, err := db.Deposits(staking.Native)
	if err != nil {
		t.Fatalf("Deposits: %v", err)
	}
	spent, err := db.Nullifiers(staking.Native)
	if err != nil {
		t.Fatalf("Nullifiers: %v", err)
	}
	if err := engine.Restore(events, spent); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := restored.AddPool(staking.Native, engine, uint256.NewInt(100), uint256.NewInt(3)); err != nil {
		t.Fatalf("AddPool: %v", err)
	}

	// The tree, the spent set, and the staking position all survive.
	info, err := restored.PoolInfo(staking.Native)
	if err != nil || info.Size != 2 {
		t.Fatalf("expected 2 restored leaves, got %d (%v)", info.Size, err)
	}
	rootAfter, _ := restored.LastRoot(staking.Native)
	if !rootAfter.Equal(&rootBefore) {
		t.Error("restored root must match the pre-restart root")
	}
	if isSpent, err := restored.IsSpent(staking.Native, notes[0].NullifierHash()); err != nil || !isSpent {
		t.Errorf("spent nullifier must survive the restart (%v)", err)
	}
	if pos, ok := restored.Position(staking.Native, bob); !ok || pos.Principal.Uint64() != 500 {
		t.Errorf("staking position must survive the restart: %+v ok=%v", pos, ok)
	}

	t.Run("replayed withdrawal stays spent", func(t *testing.T) {
		if _, err := restored.Withdraw(staking.Native, req); !errors.Is(err, mixer.ErrNullifierSpent) {
			t.Errorf("expected ErrNullifierSpent after restart, got %v", err)
		}
	})
}

// =============================================================================
// 6. STAKING INTEGRATION
// =============================================================================

func TestStakingLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping circuit setup in short mode")
	}
	tv := newTestVault(t, 30, nil)

	// Deposit fees feed the open season's reward pool.
	for i := 0; i < 5; i++ {
		mustDeposit(t, tv, mustNote(t))
	}
	fees := tv.vault.CurrentSeason().TotalsOf(staking.Native)
	if got := fees.Reward.Uint64(); got != 15 {
		t.Fatalf("five deposits must accrue 15 in fees, got %d", got)
	}

	// Bob stakes at season start and rides the whole season.
	if err := tv.vault.Stake(staking.Native, bob, uint256.NewInt(1000)); err != nil {
		t.Fatalf("Stake: %v", err)
	}

	tv.clock.at = int64(tv.vault.CurrentSeason().End) + 1
	season, err := tv.vault.AdvanceSeason()
	if err != nil {
		t.Fatalf("AdvanceSeason: %v", err)
	}
	if season.ID != 2 {
		t.Fatalf("expected season 2, got %d", season.ID)
	}

	reward, err := tv.vault.Claim(staking.Native, bob, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if reward.Uint64() != 15 {
		t.Errorf("sole staker takes all accrued fees, got %s", reward)
	}

	principal, err := tv.vault.Unstake(staking.Native, bob)
	if err != nil || principal.Uint64() != 1000 {
		t.Fatalf("Unstake: %s (%v)", principal, err)
	}
	if got := balanceOf(tv, bob); got != 10_015 {
		t.Errorf("bob must end with his stake plus the fee rewards, has %d", got)
	}
}

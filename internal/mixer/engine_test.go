// engine_test.go - Engine authorization, registries, and the fixed
// withdrawal check order.

package mixer

import (
	"errors"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
)

// ====== Helpers ======

var (
	testVault    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testIntruder = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type stubVerifier struct {
	ok    bool
	calls int
}

func (v *stubVerifier) Verify(proof *Proof, signals []fr.Element) bool {
	v.calls++
	return v.ok
}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func newTestEngine(t *testing.T, verifier Verifier, history int) *Engine {
	t.Helper()
	e, err := NewEngine(testVault, 8, history, verifier, fixedClock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func withdrawReq(nh, root fr.Element, recipient common.Address) *WithdrawRequest {
	req := &WithdrawRequest{}
	req.Signals[SignalNullifierHash] = nh
	req.Signals[SignalRecipient] = AddressToField(recipient)
	req.Signals[SignalRoot] = root
	return req
}

// ====== Deposits ======

func TestDepositAuthorization(t *testing.T) {
	e := newTestEngine(t, &stubVerifier{ok: true}, 4)
	if _, err := e.Deposit(testIntruder, fr.NewElement(1)); !errors.Is(err, ErrNotVault) {
		t.Fatalf("expected ErrNotVault, got %v", err)
	}
	if e.Size() != 0 {
		t.Error("a rejected deposit must not grow the tree")
	}
}

func TestDepositDuplicateCommitment(t *testing.T) {
	e := newTestEngine(t, &stubVerifier{ok: true}, 4)
	c := fr.NewElement(42)
	ev, err := e.Deposit(testVault, c)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if ev.LeafIndex != 0 || ev.Timestamp != fixedClock().Unix() {
		t.Errorf("unexpected event %+v", ev)
	}
	root := e.LastRoot()
	if _, err := e.Deposit(testVault, c); !errors.Is(err, ErrCommitmentSeen) {
		t.Fatalf("expected ErrCommitmentSeen, got %v", err)
	}
	after := e.LastRoot()
	if !after.Equal(&root) || e.Size() != 1 || len(e.Events(0)) != 1 {
		t.Error("a rejected duplicate must leave the engine untouched")
	}
}

func TestEventsCopy(t *testing.T) {
	e := newTestEngine(t, &stubVerifier{ok: true}, 4)
	for i := uint64(1); i <= 3; i++ {
		if _, err := e.Deposit(testVault, fr.NewElement(i)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	evs := e.Events(1)
	if len(evs) != 2 || evs[0].LeafIndex != 1 {
		t.Fatalf("unexpected slice from Events(1): %+v", evs)
	}
	evs[0].LeafIndex = 99
	if e.Events(1)[0].LeafIndex != 1 {
		t.Error("Events must return a copy")
	}
	if e.Events(5) != nil {
		t.Error("Events past the end must return nil")
	}
}

// ====== Withdrawal Check Order ======

func TestWithdrawHappyPath(t *testing.T) {
	e := newTestEngine(t, &stubVerifier{ok: true}, 4)
	if _, err := e.Deposit(testVault, fr.NewElement(7)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	nh := fr.NewElement(1001)
	req := withdrawReq(nh, e.LastRoot(), recipient)

	got, err := e.ValidateWithdraw(testVault, req)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != recipient {
		t.Errorf("expected recipient %s, got %s", recipient, got)
	}
	if !e.IsSpent(nh) {
		t.Error("validated nullifier must be marked spent")
	}
	if req.Recipient() != recipient {
		t.Error("request accessor must decode the recipient signal")
	}

	if _, err := e.ValidateWithdraw(testVault, req); !errors.Is(err, ErrNullifierSpent) {
		t.Fatalf("replay must fail with ErrNullifierSpent, got %v", err)
	}
}

func TestWithdrawAuthorization(t *testing.T) {
	v := &stubVerifier{ok: true}
	e := newTestEngine(t, v, 4)
	req := withdrawReq(fr.NewElement(1), fr.NewElement(2), testIntruder)
	if _, err := e.ValidateWithdraw(testIntruder, req); !errors.Is(err, ErrNotVault) {
		t.Fatalf("expected ErrNotVault, got %v", err)
	}
	if v.calls != 0 {
		t.Error("the verifier must not run for unauthorized callers")
	}
}

func TestSpentCheckPrecedesProof(t *testing.T) {
	v := &stubVerifier{ok: true}
	e := newTestEngine(t, v, 4)
	if _, err := e.Deposit(testVault, fr.NewElement(7)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	nh := fr.NewElement(55)
	req := withdrawReq(nh, e.LastRoot(), testIntruder)
	if _, err := e.ValidateWithdraw(testVault, req); err != nil {
		t.Fatalf("first validate: %v", err)
	}

	v.ok = false
	calls := v.calls
	if _, err := e.ValidateWithdraw(testVault, req); !errors.Is(err, ErrNullifierSpent) {
		t.Fatalf("expected ErrNullifierSpent, got %v", err)
	}
	if v.calls != calls {
		t.Error("a spent nullifier must short-circuit before the verifier")
	}
}

func TestProofCheckPrecedesRoot(t *testing.T) {
	e := newTestEngine(t, &stubVerifier{ok: false}, 4)
	req := withdrawReq(fr.NewElement(1), fr.NewElement(12345), testIntruder)
	if _, err := e.ValidateWithdraw(testVault, req); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
}

func TestStaleRoot(t *testing.T) {
	e := newTestEngine(t, &stubVerifier{ok: true}, 2)
	if _, err := e.Deposit(testVault, fr.NewElement(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	oldRoot := e.LastRoot()
	for i := uint64(2); i <= 3; i++ {
		if _, err := e.Deposit(testVault, fr.NewElement(i)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	nh := fr.NewElement(77)
	req := withdrawReq(nh, oldRoot, testIntruder)
	if _, err := e.ValidateWithdraw(testVault, req); !errors.Is(err, ErrUnknownRoot) {
		t.Fatalf("expected ErrUnknownRoot, got %v", err)
	}
	if e.IsSpent(nh) {
		t.Error("a failed validation must not mark the nullifier spent")
	}
	// Failure is idempotent: the same request fails the same way.
	if _, err := e.ValidateWithdraw(testVault, req); !errors.Is(err, ErrUnknownRoot) {
		t.Fatalf("expected ErrUnknownRoot on retry, got %v", err)
	}
}

// ====== Restore ======

func TestRestoreRoundTrip(t *testing.T) {
	src := newTestEngine(t, &stubVerifier{ok: true}, 4)
	for i := uint64(1); i <= 3; i++ {
		if _, err := src.Deposit(testVault, fr.NewElement(i*31)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	nh := fr.NewElement(900)
	if _, err := src.ValidateWithdraw(testVault, withdrawReq(nh, src.LastRoot(), testIntruder)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	dst := newTestEngine(t, &stubVerifier{ok: true}, 4)
	if err := dst.Restore(src.Events(0), []fr.Element{nh}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	srcRoot, dstRoot := src.LastRoot(), dst.LastRoot()
	if !srcRoot.Equal(&dstRoot) {
		t.Error("restored engine must end on the same root")
	}
	if dst.Size() != src.Size() || !dst.IsSpent(nh) {
		t.Error("restored engine must carry the registries")
	}

	t.Run("gap rejected", func(t *testing.T) {
		fresh := newTestEngine(t, &stubVerifier{ok: true}, 4)
		if err := fresh.Restore(src.Events(1), nil); err == nil {
			t.Error("a journal starting at leaf 1 must be rejected")
		}
	})
	t.Run("non-empty rejected", func(t *testing.T) {
		if err := dst.Restore(nil, nil); err == nil {
			t.Error("restoring a used engine must be rejected")
		}
	})
}

// ====== Address Embedding ======

func TestAddressFieldRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0xdeADbeEfdeadBEEFDeaDBEefdEAdBEeFDEadbeEf")
	v := AddressToField(addr)
	if got := FieldToAddress(v); got != addr {
		t.Fatalf("round trip changed the address: %s != %s", got, addr)
	}
}

// client.go - Go client for the mixer vault API.
//
// Wraps the REST surface and, when configured with proving material, runs
// the full withdrawal flow locally: fetch the deposit log, rebuild the
// tree path, prove, and submit. Secrets never leave the process.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/vault"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/withdraw"
)

// APIError is a non-200 reply from the vault.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vault api: %s (%s, http %d)", e.Message, e.Kind, e.Status)
}

// ErrNotFound reports a commitment missing from the deposit log.
var ErrNotFound = errors.New("commitment not found in the deposit log")

// Client talks to one vault instance.
type Client struct {
	base string
	hc   *http.Client

	// Proving material, only needed for Withdraw.
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// New returns a client for the vault at base, e.g. "http://localhost:8080".
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 60 * time.Second},
	}
}

// WithProver attaches the compiled circuit and proving key so Withdraw can
// build proofs. Returns the client for chaining.
func (c *Client) WithProver(ccs constraint.ConstraintSystem, pk groth16.ProvingKey) *Client {
	c.ccs = ccs
	c.pk = pk
	return c
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.hc = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb vault.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
			return &APIError{Status: resp.StatusCode, Kind: "internal", Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Kind: eb.Kind, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// ====== Pool operations ======

// Deposit submits the note's commitment to an asset pool. The note itself
// stays local; keep it, it is the only way to withdraw.
func (c *Client) Deposit(ctx context.Context, asset string, depositor common.Address, note *withdraw.Note) (vault.DepositResponse, error) {
	var resp vault.DepositResponse
	commitment := note.Commitment()
	err := c.post(ctx, "/api/deposit", vault.DepositRequest{
		Asset:      asset,
		Depositor:  depositor.Hex(),
		Commitment: vault.FieldHex(commitment),
	}, &resp)
	return resp, err
}

// Withdraw runs the full spend flow for a note: locate its leaf in the
// deposit log, prove membership against the current root, and submit the
// proof. Requires WithProver.
func (c *Client) Withdraw(ctx context.Context, asset string, note *withdraw.Note, recipient common.Address) (vault.WithdrawResponse, error) {
	var resp vault.WithdrawResponse
	if c.ccs == nil || c.pk == nil {
		return resp, errors.New("withdraw requires proving material, call WithProver first")
	}

	// Step 1: Fetch the full deposit log and locate our commitment.
	leaves, err := c.Leaves(ctx, asset)
	if err != nil {
		return resp, err
	}
	commitment := note.Commitment()
	leafIndex := -1
	for i := range leaves {
		if leaves[i].Equal(&commitment) {
			leafIndex = i
			break
		}
	}
	if leafIndex < 0 {
		return resp, ErrNotFound
	}

	// Step 2: Prove membership. The proof binds the recipient address.
	req, err := withdraw.Prove(c.ccs, c.pk, note, recipient, uint32(leafIndex), leaves)
	if err != nil {
		return resp, fmt.Errorf("prove: %w", err)
	}

	// Step 3: Submit proof and public signals.
	err = c.post(ctx, "/api/withdraw", vault.WithdrawRequest{
		Asset:         asset,
		Proof:         vault.EncodeProof(&req.Proof),
		NullifierHash: vault.FieldHex(req.NullifierHash()),
		Recipient:     recipient.Hex(),
		Root:          vault.FieldHex(req.Root()),
	}, &resp)
	return resp, err
}

// Events fetches the deposit log starting at leaf index from.
func (c *Client) Events(ctx context.Context, asset string, from int) (vault.EventsResponse, error) {
	var resp vault.EventsResponse
	err := c.get(ctx, fmt.Sprintf("/api/pool/%s/events?from=%d", asset, from), &resp)
	return resp, err
}

// Leaves fetches the full deposit log and returns the commitments in leaf
// order, verifying the log is contiguous.
func (c *Client) Leaves(ctx context.Context, asset string) ([]fr.Element, error) {
	resp, err := c.Events(ctx, asset, 0)
	if err != nil {
		return nil, err
	}
	leaves := make([]fr.Element, len(resp.Events))
	for i, ev := range resp.Events {
		if ev.LeafIndex != uint32(i) {
			return nil, fmt.Errorf("deposit log gap at leaf %d", i)
		}
		leaf, err := vault.ParseField(ev.Commitment)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = leaf
	}
	return leaves, nil
}

// Pools lists the configured pools.
func (c *Client) Pools(ctx context.Context) ([]vault.PoolWire, error) {
	var resp []vault.PoolWire
	err := c.get(ctx, "/api/pools", &resp)
	return resp, err
}

// Pool fetches one pool's snapshot.
func (c *Client) Pool(ctx context.Context, asset string) (vault.PoolWire, error) {
	var resp vault.PoolWire
	err := c.get(ctx, "/api/pool/"+asset, &resp)
	return resp, err
}

// Root fetches the pool's latest root and size.
func (c *Client) Root(ctx context.Context, asset string) (vault.RootResponse, error) {
	var resp vault.RootResponse
	err := c.get(ctx, "/api/pool/"+asset+"/root", &resp)
	return resp, err
}

// CheckRoot reports whether root is inside the pool's recent-root window.
func (c *Client) CheckRoot(ctx context.Context, asset string, root fr.Element) (bool, error) {
	var resp vault.RootResponse
	err := c.get(ctx, "/api/pool/"+asset+"/root?check="+vault.FieldHex(root), &resp)
	if err != nil {
		return false, err
	}
	return resp.Known != nil && *resp.Known, nil
}

// IsSpent reports whether a nullifier hash has been used.
func (c *Client) IsSpent(ctx context.Context, asset string, nullifierHash fr.Element) (bool, error) {
	var resp vault.SpentResponse
	err := c.get(ctx, "/api/pool/"+asset+"/spent/"+vault.FieldHex(nullifierHash), &resp)
	if err != nil {
		return false, err
	}
	return resp.Spent, nil
}

// SubscribeEvents streams deposit events over a websocket: the stored
// backlog first, then live deposits. The channel closes when ctx ends or
// the connection drops; a leaf-index gap means events were missed and the
// log should be refetched with Events.
func (c *Client) SubscribeEvents(ctx context.Context, asset string) (<-chan vault.EventWire, error) {
	wsBase := "ws" + strings.TrimPrefix(c.base, "http")
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsBase+"/api/pool/"+asset+"/events/ws", nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial events stream: %w", err)
	}

	out := make(chan vault.EventWire, 64)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()
		for {
			var ev vault.EventWire
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ====== Staking operations ======

// Stake opens a position in the current season.
func (c *Client) Stake(ctx context.Context, asset string, staker common.Address, amount *uint256.Int) (vault.StakeResponse, error) {
	var resp vault.StakeResponse
	err := c.post(ctx, "/api/stake", vault.StakeRequest{
		Asset:  asset,
		Staker: staker.Hex(),
		Amount: amount,
	}, &resp)
	return resp, err
}

// Unstake closes the staker's position and returns the principal.
func (c *Client) Unstake(ctx context.Context, asset string, staker common.Address) (vault.UnstakeResponse, error) {
	var resp vault.UnstakeResponse
	err := c.post(ctx, "/api/unstake", vault.UnstakeRequest{
		Asset:  asset,
		Staker: staker.Hex(),
	}, &resp)
	return resp, err
}

// Claim settles the staker's reward share for a closed season.
func (c *Client) Claim(ctx context.Context, asset string, staker common.Address, season uint64) (vault.ClaimResponse, error) {
	var resp vault.ClaimResponse
	err := c.post(ctx, "/api/claim", vault.ClaimRequest{
		Asset:  asset,
		Staker: staker.Hex(),
		Season: season,
	}, &resp)
	return resp, err
}

// FundRewards credits the open season's reward pool for an asset.
func (c *Client) FundRewards(ctx context.Context, asset string, funder common.Address, amount *uint256.Int) (vault.SeasonWire, error) {
	var resp vault.SeasonWire
	err := c.post(ctx, "/api/rewards", vault.RewardsRequest{
		Asset:  asset,
		Funder: funder.Hex(),
		Amount: amount,
	}, &resp)
	return resp, err
}

// CurrentSeason fetches the open season.
func (c *Client) CurrentSeason(ctx context.Context) (vault.SeasonWire, error) {
	var resp vault.SeasonWire
	err := c.get(ctx, "/api/season", &resp)
	return resp, err
}

// Season fetches a season by id, current or closed.
func (c *Client) Season(ctx context.Context, id uint64) (vault.SeasonWire, error) {
	var resp vault.SeasonWire
	err := c.get(ctx, fmt.Sprintf("/api/season/%d", id), &resp)
	return resp, err
}

// Position fetches the staker's open position for an asset.
func (c *Client) Position(ctx context.Context, asset string, staker common.Address) (vault.PositionWire, error) {
	var resp vault.PositionWire
	err := c.get(ctx, "/api/stake/"+asset+"/"+staker.Hex(), &resp)
	return resp, err
}

// AdvanceSeason closes the expired season and opens the next one.
func (c *Client) AdvanceSeason(ctx context.Context) (vault.SeasonWire, error) {
	var resp vault.SeasonWire
	err := c.post(ctx, "/api/season/advance", nil, &resp)
	return resp, err
}

// SetSeasonPeriod changes the period used for seasons opened from now on.
func (c *Client) SetSeasonPeriod(ctx context.Context, seconds uint64) (vault.SeasonWire, error) {
	var resp vault.SeasonWire
	err := c.post(ctx, "/api/season/period", vault.PeriodRequest{Seconds: seconds}, &resp)
	return resp, err
}

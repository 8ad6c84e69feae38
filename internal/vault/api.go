// api.go - REST and websocket surface for the vault.
//
// Exposes deposit/withdraw for the anonymity pools, the staking lifecycle,
// and the read paths clients need to build proofs: deposit events, roots,
// and nullifier status.
//
// WARNING: All endpoints validate input before touching the vault. Scalars
// travel as 0x-prefixed 32-byte big-endian hex and are rejected at or above
// the field modulus.

package vault

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/merkle"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/metrics"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/mixer"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/staking"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks client-side input errors for status mapping.
var errBadRequest = errors.New("bad request")

// ====== Wire types ======

// DepositRequest submits a commitment to an asset pool.
type DepositRequest struct {
	Asset      string `json:"asset"`
	Depositor  string `json:"depositor"`
	Commitment string `json:"commitment"`
}

// DepositResponse echoes the recorded deposit event.
type DepositResponse struct {
	Commitment string `json:"commitment"`
	LeafIndex  uint32 `json:"leafIndex"`
	Timestamp  int64  `json:"timestamp"`
	Root       string `json:"root"`
}

// ProofWire carries the three Groth16 points as compressed hex.
type ProofWire struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// WithdrawRequest submits a withdrawal proof and its public signals.
type WithdrawRequest struct {
	Asset         string    `json:"asset"`
	Proof         ProofWire `json:"proof"`
	NullifierHash string    `json:"nullifierHash"`
	Recipient     string    `json:"recipient"`
	Root          string    `json:"root"`
}

// WithdrawResponse reports the payout.
type WithdrawResponse struct {
	Recipient string       `json:"recipient"`
	Amount    *uint256.Int `json:"amount"`
}

// StakeRequest opens a staking position.
type StakeRequest struct {
	Asset  string       `json:"asset"`
	Staker string       `json:"staker"`
	Amount *uint256.Int `json:"amount"`
}

// StakeResponse echoes the opened position.
type StakeResponse struct {
	Season   uint64       `json:"season"`
	StakedAt uint64       `json:"stakedAt"`
	Weight   *uint256.Int `json:"weight"`
}

// UnstakeRequest closes a staking position.
type UnstakeRequest struct {
	Asset  string `json:"asset"`
	Staker string `json:"staker"`
}

// UnstakeResponse reports the returned principal.
type UnstakeResponse struct {
	Principal *uint256.Int `json:"principal"`
}

// ClaimRequest settles a season reward share.
type ClaimRequest struct {
	Asset  string `json:"asset"`
	Staker string `json:"staker"`
	Season uint64 `json:"season"`
}

// ClaimResponse reports the paid reward.
type ClaimResponse struct {
	Reward *uint256.Int `json:"reward"`
}

// RewardsRequest credits the open season's reward pool.
type RewardsRequest struct {
	Asset  string       `json:"asset"`
	Funder string       `json:"funder"`
	Amount *uint256.Int `json:"amount"`
}

// PeriodRequest changes the season period for seasons opened from now on.
type PeriodRequest struct {
	Seconds uint64 `json:"seconds"`
}

// TotalsWire is one asset's aggregates inside a season.
type TotalsWire struct {
	Staked *uint256.Int `json:"staked"`
	Reward *uint256.Int `json:"reward"`
	Weight *uint256.Int `json:"weight"`
}

// SeasonWire is the JSON form of a season.
type SeasonWire struct {
	ID     uint64                `json:"id"`
	Start  uint64                `json:"start"`
	End    uint64                `json:"end"`
	Period uint64                `json:"period"`
	Totals map[string]TotalsWire `json:"totals"`
}

// PositionWire is the JSON form of an open position.
type PositionWire struct {
	Asset     string       `json:"asset"`
	Staker    string       `json:"staker"`
	Season    uint64       `json:"season"`
	StakedAt  uint64       `json:"stakedAt"`
	Principal *uint256.Int `json:"principal"`
	Weight    *uint256.Int `json:"weight"`
}

// PoolWire is the JSON form of a pool snapshot.
type PoolWire struct {
	Asset        string       `json:"asset"`
	Denomination *uint256.Int `json:"denomination"`
	Fee          *uint256.Int `json:"fee"`
	Size         uint64       `json:"size"`
	Root         string       `json:"root"`
}

// RootResponse reports the latest root; Known is set when the client asked
// about a specific root via ?check=.
type RootResponse struct {
	Root  string `json:"root"`
	Size  uint64 `json:"size"`
	Known *bool  `json:"known,omitempty"`
}

// EventWire is the JSON form of a deposit event.
type EventWire struct {
	Commitment string `json:"commitment"`
	LeafIndex  uint32 `json:"leafIndex"`
	Timestamp  int64  `json:"timestamp"`
}

// EventsResponse is a deposit log page plus the root at reply time.
type EventsResponse struct {
	Root   string      `json:"root"`
	Events []EventWire `json:"events"`
}

// SpentResponse reports nullifier status.
type SpentResponse struct {
	NullifierHash string `json:"nullifierHash"`
	Spent         bool   `json:"spent"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ====== Scalar and proof codecs ======

// FieldHex renders a BN254 scalar as 0x-prefixed 32-byte big-endian hex.
func FieldHex(v fr.Element) string {
	b := v.Bytes()
	return hexutil.Encode(b[:])
}

// ParseField parses a 0x-prefixed 32-byte hex scalar, rejecting values at
// or above the field modulus.
func ParseField(s string) (fr.Element, error) {
	var v fr.Element
	raw, err := hexutil.Decode(s)
	if err != nil {
		return v, fmt.Errorf("%w: scalar %q: %v", errBadRequest, s, err)
	}
	if len(raw) != fr.Bytes {
		return v, fmt.Errorf("%w: scalar must be %d bytes, got %d", errBadRequest, fr.Bytes, len(raw))
	}
	n := new(big.Int).SetBytes(raw)
	if n.Cmp(fr.Modulus()) >= 0 {
		return v, fmt.Errorf("%w: scalar exceeds the field modulus", errBadRequest)
	}
	v.SetBigInt(n)
	return v, nil
}

// EncodeProof packs the proof points in their compressed form.
func EncodeProof(p *mixer.Proof) ProofWire {
	a := p.A.Bytes()
	b := p.B.Bytes()
	c := p.C.Bytes()
	return ProofWire{
		A: hexutil.Encode(a[:]),
		B: hexutil.Encode(b[:]),
		C: hexutil.Encode(c[:]),
	}
}

func decodeProof(w ProofWire) (*mixer.Proof, error) {
	var p mixer.Proof
	for _, part := range []struct {
		name string
		hex  string
		set  func([]byte) error
	}{
		{"a", w.A, func(b []byte) error { _, err := p.A.SetBytes(b); return err }},
		{"b", w.B, func(b []byte) error { _, err := p.B.SetBytes(b); return err }},
		{"c", w.C, func(b []byte) error { _, err := p.C.SetBytes(b); return err }},
	} {
		raw, err := hexutil.Decode(part.hex)
		if err != nil {
			return nil, fmt.Errorf("%w: proof point %s: %v", errBadRequest, part.name, err)
		}
		if err := part.set(raw); err != nil {
			return nil, fmt.Errorf("%w: proof point %s: %v", errBadRequest, part.name, err)
		}
	}
	return &p, nil
}

// ====== Error mapping ======

// statusFor maps engine, ledger, and vault failures onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, staking.ErrZeroAmount),
		errors.Is(err, staking.ErrZeroPeriod),
		errors.Is(err, staking.ErrUnknownAsset),
		errors.Is(err, staking.ErrAmountOverflow),
		errors.Is(err, merkle.ErrTreeFull):
		return http.StatusBadRequest
	case errors.Is(err, mixer.ErrNotVault), errors.Is(err, staking.ErrNotVault):
		return http.StatusForbidden
	case errors.Is(err, ErrNoPool),
		errors.Is(err, staking.ErrNoSuchSeason),
		errors.Is(err, staking.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, mixer.ErrInvalidProof), errors.Is(err, mixer.ErrUnknownRoot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mixer.ErrNullifierSpent),
		errors.Is(err, mixer.ErrCommitmentSeen),
		errors.Is(err, ErrPoolExists),
		errors.Is(err, staking.ErrAlreadyStaked),
		errors.Is(err, staking.ErrAlreadyClaimed),
		errors.Is(err, staking.ErrSeasonOver),
		errors.Is(err, staking.ErrSeasonNotOver),
		errors.Is(err, staking.ErrSeasonNotClosed),
		errors.Is(err, staking.ErrNotEligible),
		errors.Is(err, staking.ErrNoWeight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// kindOf labels an error so clients can match on kind instead of text.
func kindOf(err error) string {
	kinds := []struct {
		err  error
		kind string
	}{
		{errBadRequest, "bad_request"},
		{mixer.ErrNullifierSpent, "nullifier_spent"},
		{mixer.ErrInvalidProof, "invalid_proof"},
		{mixer.ErrUnknownRoot, "unknown_root"},
		{mixer.ErrCommitmentSeen, "commitment_seen"},
		{mixer.ErrNotVault, "not_vault"},
		{merkle.ErrTreeFull, "tree_full"},
		{ErrNoPool, "no_pool"},
		{ErrPoolExists, "pool_exists"},
		{ErrInsufficientFunds, "insufficient_funds"},
		{ErrJournal, "journal"},
		{staking.ErrNotVault, "not_vault"},
		{staking.ErrUnknownAsset, "unknown_asset"},
		{staking.ErrZeroAmount, "zero_amount"},
		{staking.ErrZeroPeriod, "zero_period"},
		{staking.ErrAmountOverflow, "amount_overflow"},
		{staking.ErrAlreadyStaked, "already_staked"},
		{staking.ErrAlreadyClaimed, "already_claimed"},
		{staking.ErrSeasonOver, "season_over"},
		{staking.ErrSeasonNotOver, "season_not_over"},
		{staking.ErrSeasonNotClosed, "season_not_closed"},
		{staking.ErrNoSuchSeason, "no_such_season"},
		{staking.ErrNoPosition, "no_position"},
		{staking.ErrNotEligible, "not_eligible"},
		{staking.ErrNoWeight, "no_weight"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// ====== Server ======

// Server exposes the vault over HTTP.
type Server struct {
	vault    *Vault
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

// NewServer wires the vault behind the API surface.
func NewServer(v *Vault, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		vault: v,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the API mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/deposit", s.handleDeposit)
	s.route(mux, "POST /api/withdraw", s.handleWithdraw)
	s.route(mux, "POST /api/stake", s.handleStake)
	s.route(mux, "POST /api/unstake", s.handleUnstake)
	s.route(mux, "POST /api/claim", s.handleClaim)
	s.route(mux, "POST /api/rewards", s.handleFundRewards)
	s.route(mux, "POST /api/season/advance", s.handleAdvanceSeason)
	s.route(mux, "POST /api/season/period", s.handleSetPeriod)
	s.route(mux, "GET /api/season", s.handleCurrentSeason)
	s.route(mux, "GET /api/season/{id}", s.handleSeason)
	s.route(mux, "GET /api/pools", s.handlePools)
	s.route(mux, "GET /api/pool/{asset}", s.handlePool)
	s.route(mux, "GET /api/pool/{asset}/root", s.handleRoot)
	s.route(mux, "GET /api/pool/{asset}/events", s.handleEvents)
	s.route(mux, "GET /api/pool/{asset}/events/ws", s.handleEventsWS)
	s.route(mux, "GET /api/pool/{asset}/spent/{hash}", s.handleSpent)
	s.route(mux, "GET /api/stake/{asset}/{staker}", s.handlePosition)
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so websocket upgrades work behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// instrument wraps a handler with a request ID, an access log line, and a
// latency observation labeled by route pattern.
func (s *Server) instrument(pattern string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		metrics.RequestSeconds.WithLabelValues(pattern, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
		s.log.WithFields(logrus.Fields{
			"request_id": uuid.NewString(),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"elapsed":    elapsed.String(),
			"remote":     r.RemoteAddr,
		}).Info("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, ErrorBody{Error: err.Error(), Kind: kindOf(err)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAsset(s string) (staking.Asset, error) {
	asset, ok := staking.ParseAsset(s)
	if !ok {
		return 0, fmt.Errorf("%w: %q", staking.ErrUnknownAsset, s)
	}
	return asset, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: malformed address %q", errBadRequest, s)
	}
	return common.HexToAddress(s), nil
}

func seasonWire(s staking.Season) SeasonWire {
	totals := make(map[string]TotalsWire, len(staking.Assets()))
	for _, a := range staking.Assets() {
		t := s.TotalsOf(a)
		totals[a.String()] = TotalsWire{
			Staked: t.Staked.Clone(),
			Reward: t.Reward.Clone(),
			Weight: t.Weight.Clone(),
		}
	}
	return SeasonWire{ID: s.ID, Start: s.Start, End: s.End, Period: s.Period, Totals: totals}
}

func eventWire(ev mixer.DepositEvent) EventWire {
	return EventWire{
		Commitment: FieldHex(ev.Commitment),
		LeafIndex:  ev.LeafIndex,
		Timestamp:  ev.Timestamp,
	}
}

func poolWire(info PoolInfo) PoolWire {
	return PoolWire{
		Asset:        info.Asset.String(),
		Denomination: info.Denomination,
		Fee:          info.Fee,
		Size:         info.Size,
		Root:         FieldHex(info.Root),
	}
}

// ====== Pool handlers ======

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	commitment, err := ParseField(req.Commitment)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ev, err := s.vault.Deposit(asset, depositor, commitment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	root, err := s.vault.LastRoot(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositResponse{
		Commitment: FieldHex(ev.Commitment),
		LeafIndex:  ev.LeafIndex,
		Timestamp:  ev.Timestamp,
		Root:       FieldHex(root),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	proof, err := decodeProof(req.Proof)
	if err != nil {
		s.writeError(w, err)
		return
	}
	nullifierHash, err := ParseField(req.NullifierHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	root, err := ParseField(req.Root)
	if err != nil {
		s.writeError(w, err)
		return
	}

	wr := &mixer.WithdrawRequest{Proof: *proof}
	wr.Signals[mixer.SignalNullifierHash] = nullifierHash
	wr.Signals[mixer.SignalRecipient] = mixer.AddressToField(recipient)
	wr.Signals[mixer.SignalRoot] = root

	paid, err := s.vault.Withdraw(asset, wr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.vault.PoolInfo(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{
		Recipient: paid.Hex(),
		Amount:    info.Denomination,
	})
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	assets := s.vault.PoolAssets()
	pools := make([]PoolWire, 0, len(assets))
	for _, a := range assets {
		info, err := s.vault.PoolInfo(a)
		if err != nil {
			s.writeError(w, err)
			return
		}
		pools = append(pools, poolWire(info))
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.PathValue("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.vault.PoolInfo(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolWire(info))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.PathValue("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.vault.PoolInfo(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := RootResponse{Root: FieldHex(info.Root), Size: info.Size}
	if check := r.URL.Query().Get("check"); check != "" {
		candidate, err := ParseField(check)
		if err != nil {
			s.writeError(w, err)
			return
		}
		known, err := s.vault.IsKnownRoot(asset, candidate)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Known = &known
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.PathValue("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	from := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			s.writeError(w, fmt.Errorf("%w: from must be a non-negative integer", errBadRequest))
			return
		}
		from = v
	}
	events, err := s.vault.Events(asset, from)
	if err != nil {
		s.writeError(w, err)
		return
	}
	root, err := s.vault.LastRoot(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	wire := make([]EventWire, len(events))
	for i, ev := range events {
		wire[i] = eventWire(ev)
	}
	writeJSON(w, http.StatusOK, EventsResponse{Root: FieldHex(root), Events: wire})
}

// handleEventsWS streams deposit events: first the stored backlog, then live
// notices. Leaf indexes are strictly increasing; a client that sees a gap
// (possible when it consumes too slowly) should refetch over plain GET.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.PathValue("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.vault.PoolInfo(asset); err != nil {
		s.writeError(w, err)
		return
	}

	// Subscribe before snapshotting the backlog so nothing lands between.
	notices, cancel := s.vault.Subscribe(64)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(512)

	events, err := s.vault.Events(asset, 0)
	if err != nil {
		return
	}
	var next uint32
	for _, ev := range events {
		if err := conn.WriteJSON(eventWire(ev)); err != nil {
			return
		}
		next = ev.LeafIndex + 1
	}

	// Reader pump: surfaces peer close without expecting any messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Asset != asset || n.Event.LeafIndex < next {
				continue
			}
			if err := conn.WriteJSON(eventWire(n.Event)); err != nil {
				return
			}
			next = n.Event.LeafIndex + 1
		}
	}
}

func (s *Server) handleSpent(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.PathValue("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	nullifierHash, err := ParseField(r.PathValue("hash"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	spent, err := s.vault.IsSpent(asset, nullifierHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SpentResponse{
		NullifierHash: FieldHex(nullifierHash),
		Spent:         spent,
	})
}

// ====== Staking handlers ======

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	staker, err := parseAddress(req.Staker)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.vault.Stake(asset, staker, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	pos, _ := s.vault.Position(asset, staker)
	writeJSON(w, http.StatusOK, StakeResponse{
		Season:   pos.Season,
		StakedAt: pos.StakedAt,
		Weight:   pos.Weight.Clone(),
	})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req UnstakeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	staker, err := parseAddress(req.Staker)
	if err != nil {
		s.writeError(w, err)
		return
	}
	principal, err := s.vault.Unstake(asset, staker)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UnstakeResponse{Principal: principal})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	staker, err := parseAddress(req.Staker)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reward, err := s.vault.Claim(asset, staker, req.Season)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{Reward: reward})
}

func (s *Server) handleFundRewards(w http.ResponseWriter, r *http.Request) {
	var req RewardsRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	funder, err := parseAddress(req.Funder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.vault.FundRewards(asset, funder, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seasonWire(s.vault.CurrentSeason()))
}

func (s *Server) handleAdvanceSeason(w http.ResponseWriter, r *http.Request) {
	season, err := s.vault.AdvanceSeason()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seasonWire(season))
}

func (s *Server) handleSetPeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.vault.SetSeasonPeriod(time.Duration(req.Seconds) * time.Second); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seasonWire(s.vault.CurrentSeason()))
}

func (s *Server) handleCurrentSeason(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, seasonWire(s.vault.CurrentSeason()))
}

func (s *Server) handleSeason(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: season id: %v", errBadRequest, err))
		return
	}
	season, err := s.vault.SeasonByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seasonWire(season))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAsset(r.PathValue("asset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	staker, err := parseAddress(r.PathValue("staker"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pos, ok := s.vault.Position(asset, staker)
	if !ok {
		s.writeError(w, staking.ErrNoPosition)
		return
	}
	writeJSON(w, http.StatusOK, PositionWire{
		Asset:     asset.String(),
		Staker:    staker.Hex(),
		Season:    pos.Season,
		StakedAt:  pos.StakedAt,
		Principal: pos.Principal.Clone(),
		Weight:    pos.Weight.Clone(),
	})
}

// store.go - LevelDB journal for deposits, nullifiers, and staking state.
//
// Layout. Deposit events live under 'd<asset>/<leaf BE32>' with a running
// count at 'c<asset>'; spent nullifiers are keys under 'n<asset>/'; the
// staking ledger snapshot lives whole at 's/ledger'. Big-endian leaf keys
// make prefix iteration return the log in insertion order.

package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/mixer"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/staking"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/vault"
)

// ErrGap reports a deposit log whose leaf indexes do not line up.
var ErrGap = errors.New("deposit log gap")

const eventSize = 44 // 32 commitment + 4 leaf index + 8 timestamp

var stakingKey = []byte("s/ledger")

// Store persists accepted operations and rebuilds pool state at boot.
type Store struct {
	db *leveldb.DB
}

var _ vault.Journal = (*Store)(nil)

// Open opens or creates the database at path. An empty path opens an
// in-memory database for tests and ephemeral runs.
func Open(path string) (*Store, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func depositKey(asset staking.Asset, leaf uint32) []byte {
	k := make([]byte, 0, 7)
	k = append(k, 'd', byte(asset), '/')
	return binary.BigEndian.AppendUint32(k, leaf)
}

func depositPrefix(asset staking.Asset) []byte {
	return []byte{'d', byte(asset), '/'}
}

func countKey(asset staking.Asset) []byte {
	return []byte{'c', byte(asset)}
}

func nullifierKey(asset staking.Asset, nullifierHash fr.Element) []byte {
	b := nullifierHash.Bytes()
	k := make([]byte, 0, 3+len(b))
	k = append(k, 'n', byte(asset), '/')
	return append(k, b[:]...)
}

func nullifierPrefix(asset staking.Asset) []byte {
	return []byte{'n', byte(asset), '/'}
}

func encodeEvent(ev mixer.DepositEvent) []byte {
	buf := make([]byte, eventSize)
	commitment := ev.Commitment.Bytes()
	copy(buf[:32], commitment[:])
	binary.BigEndian.PutUint32(buf[32:36], ev.LeafIndex)
	binary.BigEndian.PutUint64(buf[36:44], uint64(ev.Timestamp))
	return buf
}

func decodeEvent(data []byte) (mixer.DepositEvent, error) {
	if len(data) != eventSize {
		return mixer.DepositEvent{}, fmt.Errorf("deposit record is %d bytes, want %d", len(data), eventSize)
	}
	var ev mixer.DepositEvent
	ev.Commitment.SetBytes(data[:32])
	ev.LeafIndex = binary.BigEndian.Uint32(data[32:36])
	ev.Timestamp = int64(binary.BigEndian.Uint64(data[36:44]))
	return ev, nil
}

// AppendDeposit stores ev as the next record of the asset's deposit log.
// Events must arrive in leaf order.
func (s *Store) AppendDeposit(asset staking.Asset, ev mixer.DepositEvent) error {
	next, err := s.DepositCount(asset)
	if err != nil {
		return err
	}
	if uint64(ev.LeafIndex) != next {
		return fmt.Errorf("%w: have %d records, got leaf %d", ErrGap, next, ev.LeafIndex)
	}
	batch := new(leveldb.Batch)
	batch.Put(depositKey(asset, ev.LeafIndex), encodeEvent(ev))
	var cnt [8]byte
	binary.BigEndian.PutUint64(cnt[:], next+1)
	batch.Put(countKey(asset), cnt[:])
	return s.db.Write(batch, nil)
}

// DepositCount returns the number of journaled deposits for the asset.
func (s *Store) DepositCount(asset staking.Asset) (uint64, error) {
	raw, err := s.db.Get(countKey(asset), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("deposit count is %d bytes, want 8", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Deposits returns the asset's full deposit log in leaf order.
func (s *Store) Deposits(asset staking.Asset) ([]mixer.DepositEvent, error) {
	iter := s.db.NewIterator(util.BytesPrefix(depositPrefix(asset)), nil)
	defer iter.Release()
	var events []mixer.DepositEvent
	for iter.Next() {
		ev, err := decodeEvent(iter.Value())
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	for i, ev := range events {
		if ev.LeafIndex != uint32(i) {
			return nil, fmt.Errorf("%w: record %d holds leaf %d", ErrGap, i, ev.LeafIndex)
		}
	}
	return events, nil
}

// AppendNullifier marks nullifierHash spent in the asset's pool. Recording
// the same hash twice is a harmless overwrite.
func (s *Store) AppendNullifier(asset staking.Asset, nullifierHash fr.Element) error {
	return s.db.Put(nullifierKey(asset, nullifierHash), nil, nil)
}

// Nullifiers returns every spent nullifier hash recorded for the asset.
func (s *Store) Nullifiers(asset staking.Asset) ([]fr.Element, error) {
	prefix := nullifierPrefix(asset)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var spent []fr.Element
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+fr.Bytes {
			return nil, fmt.Errorf("nullifier key is %d bytes, want %d", len(key), len(prefix)+fr.Bytes)
		}
		var nh fr.Element
		nh.SetBytes(key[len(prefix):])
		spent = append(spent, nh)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return spent, nil
}

// SaveStaking stores the ledger snapshot, replacing any previous one.
func (s *Store) SaveStaking(snapshot []byte) error {
	return s.db.Put(stakingKey, snapshot, nil)
}

// LoadStaking returns the stored ledger snapshot, or nil when none exists.
func (s *Store) LoadStaking() ([]byte, error) {
	raw, err := s.db.Get(stakingKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

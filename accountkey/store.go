// Package accountkey keeps Fast Pair Account Keys in a fixed number of slots,
// evicting the least recently used key when full, and tracks which
// link-layer bond each key was written over.
//
// A Store is driven from a single goroutine. Connection and bond events are
// delivered between calls, never during one.
package accountkey

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

// ConnContext identifies the connection that owns an in-progress procedure.
// It must be comparable. nil means no procedure.
type ConnContext interface{}

type keySlot struct {
	key  fpstorage.AccountKey
	meta Metadata
}

// tables is the RAM state of an enabled store.
type tables struct {
	keys  []keySlot
	count int
	// order holds key ids, most recently used first, zero padded.
	order []uint8
	bonds []bondEntry
}

func newTables(capacity, bondCap int) *tables {
	return &tables{
		keys:  make([]keySlot, capacity),
		order: make([]uint8, capacity),
		bonds: make([]bondEntry, bondCap),
	}
}

func (t *tables) full() bool {
	return t.count == len(t.keys)
}

func (t *tables) keyIndex(key fpstorage.AccountKey) int {
	for i := 0; i < t.count; i++ {
		if bytes.Equal(t.keys[i].key[:], key[:]) {
			return i
		}
	}
	return -1
}

func (t *tables) idLive(id uint8) bool {
	if id == 0 {
		return false
	}
	for i := 0; i < t.count; i++ {
		if t.keys[i].meta.ID() == id {
			return true
		}
	}
	return false
}

// Store is the Account Key storage module.
type Store struct {
	settings  fpstorage.Settings
	requester fpstorage.BondRequester
	log       fpstorage.Logger
	obs       Observer

	ids         idSpace
	bondCap     int
	bondKeeping bool

	t       *tables
	enabled bool
}

// New returns a disabled store persisting to settings.
func New(settings fpstorage.Settings, opts ...Option) (*Store, error) {
	if settings == nil {
		return nil, errors.Wrap(fpstorage.ErrInvalidArgument, "nil settings")
	}

	s := &Store{
		settings: settings,
		log:      fpstorage.ModuleLogger("fp_storage_ak"),
		obs:      nopObserver{},
		ids:      idSpace{capacity: DefaultCapacity},
		bondCap:  DefaultBondCapacity,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "can't set options")
		}
	}

	return s, nil
}

func (s *Store) Name() string {
	return "fp_storage_ak"
}

func (s *Store) Capacity() int {
	return int(s.ids.capacity)
}

// RegisterBondRequester sets the connection stack collaborator. It must be
// called before Enable when bond keeping is on.
func (s *Store) RegisterBondRequester(r fpstorage.BondRequester) {
	s.requester = r
}

// Enable replays the persisted records, validates and repairs them, and
// makes the store usable. A corrupt key table or recency order fails with
// ErrCorrupt and leaves the store disabled.
func (s *Store) Enable() error {
	if s.enabled {
		s.log.Warn("account key storage already enabled")
		return nil
	}

	if s.bondKeeping && s.requester == nil {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "bond requester not registered")
	}

	recs := newRecords(s.ids, s.bondCap, s.bondKeeping, s.log)
	if err := readRecords(s.settings, recs); err != nil {
		return errors.Wrap(err, "failed to load account key storage")
	}
	if recs.err != nil {
		return recs.err
	}

	s.t = newTables(int(s.ids.capacity), s.bondCap)
	s.apply(recs)

	if err := s.validate(); err != nil {
		s.t = nil
		return err
	}

	s.enabled = true
	s.obs.KeysStored(s.t.count)

	return nil
}

// Disable makes every call fail with ErrDisabled until the next Enable. RAM
// state is dropped; Enable rebuilds it from settings.
func (s *Store) Disable() error {
	if !s.enabled {
		s.log.Warn("account key storage already disabled")
		return nil
	}

	s.enabled = false
	s.t = nil

	return nil
}

// RAMClear drops all RAM state, including the registered bond requester,
// without touching settings.
func (s *Store) RAMClear() {
	s.t = nil
	s.enabled = false
	s.requester = nil
}

func (s *Store) Enabled() bool {
	return s.enabled
}

func (s *Store) apply(recs *records) {
	for _, r := range recs.keys {
		s.t.keys[r.index] = keySlot{key: r.key, meta: r.meta}
	}
	if recs.order != nil {
		copy(s.t.order, recs.order)
	}
	for _, r := range recs.bonds {
		s.t.bonds[r.index] = bondEntry{keyID: r.keyID, addr: r.addr}
	}
}

// Count returns the number of stored Account Keys.
func (s *Store) Count() (int, error) {
	if !s.enabled {
		return 0, fpstorage.ErrDisabled
	}

	return s.t.count, nil
}

func (s *Store) HasAccountKey() bool {
	n, err := s.Count()
	return err == nil && n > 0
}

// Get copies the stored keys, in slot order, into buf and returns how many
// were copied.
func (s *Store) Get(buf []fpstorage.AccountKey) (int, error) {
	if !s.enabled {
		return 0, fpstorage.ErrDisabled
	}

	if len(buf) < s.t.count {
		return 0, errors.Wrapf(fpstorage.ErrBufferTooSmall, "need %d, have %d", s.t.count, len(buf))
	}

	for i := 0; i < s.t.count; i++ {
		buf[i] = s.t.keys[i].key
	}

	return s.t.count, nil
}

// Find returns the first key, in slot order, accepted by match and marks it
// as the most recently used.
func (s *Store) Find(match func(key fpstorage.AccountKey) bool) (fpstorage.AccountKey, error) {
	if !s.enabled {
		return fpstorage.AccountKey{}, fpstorage.ErrDisabled
	}

	if match == nil {
		return fpstorage.AccountKey{}, errors.Wrap(fpstorage.ErrInvalidArgument, "nil match function")
	}

	for i := 0; i < s.t.count; i++ {
		if !match(s.t.keys[i].key) {
			continue
		}

		s.t.orderUse(s.t.keys[i].meta.ID())
		s.saveOrderBestEffort()

		return s.t.keys[i].key, nil
	}

	return fpstorage.AccountKey{}, fpstorage.ErrNotFound
}

// KeyID returns the id currently assigned to key.
func (s *Store) KeyID(key fpstorage.AccountKey) (uint8, error) {
	if !s.enabled {
		return 0, fpstorage.ErrDisabled
	}

	i := s.t.keyIndex(key)
	if i < 0 {
		return 0, fpstorage.ErrNotFound
	}

	return s.t.keys[i].meta.ID(), nil
}

// Order returns the ids of the stored keys, most recently used first.
func (s *Store) Order() ([]uint8, error) {
	if !s.enabled {
		return nil, fpstorage.ErrDisabled
	}

	return append([]uint8(nil), s.t.order[:s.t.count]...), nil
}

// Save stores key. conn is the connection whose procedure wrote the key; the
// key id is recorded in that connection's bond record before the key itself
// is persisted. conn may be nil when no bond is involved.
//
// When the table is full the least recently used key is overwritten and every
// bond associated with it is removed.
func (s *Store) Save(key fpstorage.AccountKey, conn ConnContext) error {
	if !s.enabled {
		return fpstorage.ErrDisabled
	}

	t := s.t
	if t.keyIndex(key) >= 0 {
		s.log.Info("account key already saved - skipping")
		return nil
	}

	overwrite := t.full()
	if overwrite {
		s.log.Info("account key list full - erasing the least recently used account key")
	}

	id := s.nextID()
	rec := keyRecord{index: s.ids.index(id), meta: Metadata(0).WithID(id), key: key}

	bondIdx := -1
	var rollback bondEntry
	if s.bondKeeping && conn != nil {
		bondIdx = t.bondByConn(conn)
		if bondIdx < 0 {
			return errors.Wrap(fpstorage.ErrInvalidArgument, "no procedure for connection")
		}
		if !t.bonds[bondIdx].bonded {
			return errors.Wrap(fpstorage.ErrInvalidArgument, "account key written by unbonded connection")
		}

		rollback = t.bonds[bondIdx]
		upd := rollback
		upd.keyID = id
		if err := s.saveBond(bondIdx, upd); err != nil {
			return err
		}
		t.bonds[bondIdx] = upd
	}

	if err := s.settings.Save(keyName(rec.index), rec.encode()); err != nil {
		if bondIdx >= 0 {
			t.bonds[bondIdx] = rollback
			if rerr := s.saveBond(bondIdx, rollback); rerr != nil {
				// the persisted bond now names an id with no key and is purged
				// at the next enable
				s.log.Errorf("failed to roll back bond %d: %v", bondIdx, rerr)
			}
		}
		return storageErr("save", keyName(rec.index), err)
	}

	t.keys[rec.index] = keySlot{key: rec.key, meta: rec.meta}
	if !overwrite {
		t.count++
	}

	if bondIdx >= 0 {
		// procedure finished
		t.bonds[bondIdx].conn = nil
	}

	t.orderUse(id)
	s.saveOrderBestEffort()

	s.obs.KeySaved(overwrite)
	s.obs.KeysStored(t.count)

	if s.bondKeeping && overwrite {
		s.removeBondsWithInvalidID(false)
	}

	return nil
}

func (s *Store) nextID() uint8 {
	if !s.t.full() {
		return MinID + uint8(s.t.count)
	}

	return s.ids.bump(s.t.leastRecentID())
}

func storageErr(op, name string, err error) error {
	if errors.Is(err, fpstorage.ErrStorage) {
		return err
	}
	return &fpstorage.StorageError{Op: op, Name: name, Err: err}
}

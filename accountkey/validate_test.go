package accountkey

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigado/fpstorage"
	"github.com/rigado/fpstorage/settings/memory"
)

func enableErr(t *testing.T, m *memory.Store, opts ...Option) error {
	t.Helper()
	s, err := New(m, opts...)
	require.NoError(t, err)
	err = s.Enable()
	if err != nil {
		assert.False(t, s.Enabled())
	}
	return err
}

func TestEnableRejectsCorruptKeys(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *memory.Store)
	}{
		{"id in wrong slot", func(m *memory.Store) {
			rec := keyRecord{meta: Metadata(0).WithID(2), key: testKey(1)}
			_ = m.Save(keyName(0), rec.encode())
		}},
		{"gap in slots", func(m *memory.Store) {
			writeKey(t, m, 0, 1, testKey(1))
			writeKey(t, m, 2, 3, testKey(3))
			_ = m.Save(orderName, []byte{1, 0, 0})
		}},
		{"bumped id before table was full", func(m *memory.Store) {
			writeKey(t, m, 0, 4, testKey(1))
		}},
		{"id out of range", func(m *memory.Store) {
			_ = m.Save(keyName(0), append([]byte{7}, keyBytes(testKey(1))...))
		}},
		{"reserved metadata bits", func(m *memory.Store) {
			_ = m.Save(keyName(0), append([]byte{0x41}, keyBytes(testKey(1))...))
		}},
		{"short key record", func(m *memory.Store) {
			_ = m.Save(keyName(0), []byte{1, 2, 3})
		}},
		{"bad slot name", func(m *memory.Store) {
			rec := keyRecord{meta: Metadata(0).WithID(1), key: testKey(1)}
			_ = m.Save(keyPrefix+"x", rec.encode())
		}},
		{"unknown record", func(m *memory.Store) {
			_ = m.Save(SubtreeName+"/unknown", []byte{1})
		}},
		{"order ids beyond key count", func(m *memory.Store) {
			writeKey(t, m, 0, 1, testKey(1))
			_ = m.Save(orderName, []byte{1, 2, 0})
		}},
		{"order of wrong length", func(m *memory.Store) {
			_ = m.Save(orderName, []byte{0, 0})
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := memory.New()
			tc.setup(m)
			err := enableErr(t, m, OptCapacity(3))
			require.Error(t, err)
			assert.True(t, errors.Is(err, fpstorage.ErrCorrupt), "got %v", err)
		})
	}
}

func keyBytes(k fpstorage.AccountKey) []byte { return k[:] }

func TestEnableLoadFailure(t *testing.T) {
	m := memory.New()
	m.FailOn(memory.OpLoad, SubtreeName)

	err := enableErr(t, m)
	assert.True(t, errors.Is(err, memory.ErrInjected))
}

func TestEnableFullTableWithBumpedIds(t *testing.T) {
	m := memory.New()
	writeKey(t, m, 0, 4, testKey(1))
	writeKey(t, m, 1, 2, testKey(2))
	writeKey(t, m, 2, 6, testKey(3))
	require.NoError(t, m.Save(orderName, []byte{6, 4, 2}))

	s := newKeyStore(t, m, OptCapacity(3))
	n, _ := s.Count()
	assert.Equal(t, 3, n)

	// least recent is id 2, its slot is reused with id 5
	require.NoError(t, s.Save(testKey(4), nil))
	id, err := s.KeyID(testKey(4))
	require.NoError(t, err)
	assert.Equal(t, uint8(5), id)
	assert.Equal(t, []fpstorage.AccountKey{testKey(1), testKey(4), testKey(3)}, keysOf(t, s))
}

func TestEnableRepairsOrder(t *testing.T) {
	tests := []struct {
		name   string
		stored []byte
		want   []uint8
	}{
		{"missing order record", nil, []uint8{3, 2, 1}},
		{"unknown and duplicate ids", []byte{2, 2, 9}, []uint8{3, 1, 2}},
		{"one id missing", []byte{1, 3, 5}, []uint8{2, 1, 3}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := memory.New()
			writeKey(t, m, 0, 1, testKey(1))
			writeKey(t, m, 1, 2, testKey(2))
			writeKey(t, m, 2, 3, testKey(3))
			if tc.stored != nil {
				require.NoError(t, m.Save(orderName, tc.stored))
			}

			s := newKeyStore(t, m, OptCapacity(3))
			order, err := s.Order()
			require.NoError(t, err)
			assert.Equal(t, tc.want, order)

			persisted, ok := m.Get(orderName)
			require.True(t, ok)
			assert.Equal(t, tc.want, persisted)
		})
	}
}

func TestEnableKeepsValidOrder(t *testing.T) {
	m := memory.New()
	writeKey(t, m, 0, 1, testKey(1))
	writeKey(t, m, 1, 2, testKey(2))
	require.NoError(t, m.Save(orderName, []byte{1, 2, 0}))
	saves := m.Saves()

	s := newKeyStore(t, m, OptCapacity(3))
	order, _ := s.Order()
	assert.Equal(t, []uint8{1, 2}, order)
	assert.Equal(t, saves, m.Saves())
}

func TestEnableOrderRepairSaveFailureIsFatal(t *testing.T) {
	m := memory.New()
	writeKey(t, m, 0, 1, testKey(1))
	m.FailOn(memory.OpSave, orderName)

	err := enableErr(t, m, OptCapacity(3))
	assert.True(t, errors.Is(err, fpstorage.ErrStorage))
}

func TestEnablePurgesOrphanedBond(t *testing.T) {
	m := memory.New()
	writeKey(t, m, 0, 1, testKey(1))
	require.NoError(t, m.Save(orderName, []byte{1, 0, 0}))

	good, orphan := testAddr(1), testAddr(2)
	writeBond(t, m, 0, 1, good)
	// written by a save that lost power before its key was persisted
	writeBond(t, m, 1, 2, orphan)

	stack := newFakeStack()
	stack.bonded[good] = true
	stack.bonded[orphan] = true

	s := newBondStore(t, m, stack, OptCapacity(3))

	bonds, err := s.Bonds()
	require.NoError(t, err)
	require.Len(t, bonds, 1)
	assert.Equal(t, good, bonds[0].Addr)
	assert.True(t, bonds[0].Bonded)
	assert.False(t, bonds[0].InProgress)

	assert.Equal(t, []fpstorage.Addr{orphan}, stack.removed)
	_, ok := m.Get(bondName(1))
	assert.False(t, ok)
}

func TestEnableReconcilesBonds(t *testing.T) {
	m := memory.New()
	writeKey(t, m, 0, 1, testKey(1))
	require.NoError(t, m.Save(orderName, []byte{1, 0, 0}))

	dup, unfinished, stale, gone := testAddr(1), testAddr(2), testAddr(3), testAddr(4)
	writeBond(t, m, 0, 0, dup)
	writeBond(t, m, 1, 1, dup)
	writeBond(t, m, 2, 0, unfinished)
	writeBond(t, m, 3, 1, stale)
	writeBond(t, m, 4, 1, gone)

	stack := newFakeStack()
	stack.bonded[dup] = true
	stack.bonded[unfinished] = true
	stack.bonded[gone] = false

	obs := newCountingObserver()
	s := newBondStore(t, m, stack, OptCapacity(3), OptObserver(obs))

	bonds, err := s.Bonds()
	require.NoError(t, err)
	require.Len(t, bonds, 1)
	assert.Equal(t, BondInfo{Index: 1, Addr: dup, AccountKeyID: 1, Bonded: true}, bonds[0])

	assert.Equal(t, []fpstorage.Addr{unfinished}, stack.removed)
	assert.Equal(t, 1, obs.purged["duplicate"])
	assert.Equal(t, 1, obs.purged["unfinished"])
	assert.Equal(t, 2, obs.purged["not_bonded"])

	var bondNames []string
	for _, n := range m.Names() {
		if len(n) > len(bondPrefix) && n[:len(bondPrefix)] == bondPrefix {
			bondNames = append(bondNames, n)
		}
	}
	assert.Equal(t, []string{bondName(1)}, bondNames)
}

func TestEnableBondRecordErrors(t *testing.T) {
	m := memory.New()
	require.NoError(t, m.Save(bondName(5), bondRecord{keyID: 1, addr: testAddr(1)}.encode()))

	s, err := New(m, OptBondKeeping(true), OptBondCapacity(2))
	require.NoError(t, err)
	s.RegisterBondRequester(newFakeStack())
	assert.True(t, errors.Is(s.Enable(), fpstorage.ErrCorrupt))

	// without bond keeping bond records are ignored
	s2, err := New(m, OptBondCapacity(2))
	require.NoError(t, err)
	require.NoError(t, s2.Enable())
}

func TestEnableBondPurgeFailureDegrades(t *testing.T) {
	m := memory.New()
	writeBond(t, m, 0, 1, testAddr(1))
	m.FailAlways(memory.OpDelete, bondPrefix)

	stack := newFakeStack()
	s := newBondStore(t, m, stack)

	// the record could not be deleted but enable still succeeds
	bonds, err := s.Bonds()
	require.NoError(t, err)
	assert.Len(t, bonds, 1)
}

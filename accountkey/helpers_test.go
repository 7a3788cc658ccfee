package accountkey

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rigado/fpstorage"
	"github.com/rigado/fpstorage/settings/memory"
)

func testKey(b byte) fpstorage.AccountKey {
	var k fpstorage.AccountKey
	for i := range k {
		k[i] = b
	}
	return k
}

func testAddr(b byte) fpstorage.Addr {
	return fpstorage.Addr{Type: fpstorage.AddrPublic, Val: [fpstorage.AddrLen]byte{0xc0, 0, 0, 0, 0, b}}
}

func equals(k fpstorage.AccountKey) func(fpstorage.AccountKey) bool {
	return func(c fpstorage.AccountKey) bool { return c == k }
}

// fakeStack stands in for the connection stack. It reports removals back to
// the store the way a stack does once a bond is gone.
type fakeStack struct {
	bonded    map[fpstorage.Addr]bool
	removed   []fpstorage.Addr
	removeErr error
	store     *Store
}

func newFakeStack() *fakeStack {
	return &fakeStack{bonded: map[fpstorage.Addr]bool{}}
}

func (f *fakeStack) IsAddrBonded(a fpstorage.Addr) bool {
	return f.bonded[a]
}

func (f *fakeStack) BondRemove(a fpstorage.Addr) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	if !f.bonded[a] {
		return fpstorage.ErrNotFound
	}
	delete(f.bonded, a)
	f.removed = append(f.removed, a)
	if f.store != nil {
		_ = f.store.Delete(a)
	}
	return nil
}

type countingObserver struct {
	stored     int
	saves      int
	evictions  int
	bestEffort []string
	purged     map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{purged: map[string]int{}}
}

func (o *countingObserver) KeysStored(n int) { o.stored = n }
func (o *countingObserver) KeySaved(evicted bool) {
	o.saves++
	if evicted {
		o.evictions++
	}
}
func (o *countingObserver) BestEffortFailed(r string) { o.bestEffort = append(o.bestEffort, r) }
func (o *countingObserver) BondPurged(reason string)  { o.purged[reason]++ }

func newKeyStore(t *testing.T, settings fpstorage.Settings, opts ...Option) *Store {
	t.Helper()
	s, err := New(settings, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Enable())
	return s
}

func newBondStore(t *testing.T, settings fpstorage.Settings, stack *fakeStack, opts ...Option) *Store {
	t.Helper()
	s, err := New(settings, append([]Option{OptBondKeeping(true)}, opts...)...)
	require.NoError(t, err)
	s.RegisterBondRequester(stack)
	stack.store = s
	require.NoError(t, s.Enable())
	return s
}

// pair runs a complete initial procedure for peer on conn and writes key.
func pair(t *testing.T, s *Store, stack *fakeStack, conn ConnContext, peer fpstorage.Addr, key fpstorage.AccountKey) {
	t.Helper()
	require.NoError(t, s.ConnCreate(conn, peer, nil))
	stack.bonded[peer] = true
	require.NoError(t, s.ConnConfirm(conn, peer))
	require.NoError(t, s.Save(key, conn))
}

func writeKey(t *testing.T, m *memory.Store, index int, id uint8, key fpstorage.AccountKey) {
	t.Helper()
	rec := keyRecord{index: index, meta: Metadata(0).WithID(id), key: key}
	require.NoError(t, m.Save(keyName(index), rec.encode()))
}

func writeBond(t *testing.T, m *memory.Store, index int, id uint8, addr fpstorage.Addr) {
	t.Helper()
	rec := bondRecord{index: index, keyID: id, addr: addr}
	require.NoError(t, m.Save(bondName(index), rec.encode()))
}

func keysOf(t *testing.T, s *Store) []fpstorage.AccountKey {
	t.Helper()
	buf := make([]fpstorage.AccountKey, s.Capacity())
	n, err := s.Get(buf)
	require.NoError(t, err)
	return buf[:n]
}

func orderOf(t *testing.T, s *Store, keys ...fpstorage.AccountKey) []uint8 {
	t.Helper()
	out := make([]uint8, 0, len(keys))
	for _, k := range keys {
		id, err := s.KeyID(k)
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

package bond

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

func TestBondManager(t *testing.T) {
	m := NewBondManager(filepath.Join(t.TempDir(), "bonds.json"))
	a := fpstorage.MustParseAddr("c0:11:22:33:44:55")
	b := fpstorage.MustParseAddr("4a:11:22:33:44:55/random")

	if m.IsAddrBonded(a) {
		t.Fatal("empty bond file should not report bonds")
	}

	if err := m.Add(a, []byte{1, 2}); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := m.Add(b, nil); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := m.Add(a, []byte{3}); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("list failed: %s", err)
	}
	if len(list) != 2 || list[0] != a || list[1] != b {
		t.Fatalf("unexpected bond list %v", list)
	}

	var reported []fpstorage.Addr
	m.OnRemove(func(addr fpstorage.Addr) error {
		reported = append(reported, addr)
		return nil
	})

	if err := m.BondRemove(a); err != nil {
		t.Fatalf("remove failed: %s", err)
	}
	if m.IsAddrBonded(a) || !m.IsAddrBonded(b) {
		t.Fatal("wrong bond removed")
	}
	if len(reported) != 1 || reported[0] != a {
		t.Fatalf("removal not reported: %v", reported)
	}

	if err := m.BondRemove(a); !errors.Is(err, fpstorage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

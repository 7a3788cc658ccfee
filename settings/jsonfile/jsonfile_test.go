package jsonfile

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

func TestSettingsFile_SaveLoad(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "settings.json")

	s := New(fn)
	if err := s.Save("fp/bond/0", []byte{0, 1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := s.Save("fp/ak_order", []byte{1}); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := s.Delete("fp/ak_order"); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	// a second instance must see the same data
	var names []string
	err := New(fn).Load("fp/", func(name string, value []byte) error {
		names = append(names, name)
		if !bytes.Equal(value, []byte{0, 1, 2, 3, 4, 5, 6, 7}) {
			t.Fatalf("unexpected value %x", value)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load failed: %s", err)
	}
	if len(names) != 1 || names[0] != "fp/bond/0" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestSettingsFile_Corrupt(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "settings.json")
	if err := ioutil.WriteFile(fn, []byte(`{"records":{"fp/ak/0":"zz"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	err := New(fn).Load("fp/", func(string, []byte) error { return nil })
	if !errors.Is(err, fpstorage.ErrCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}

	if err := ioutil.WriteFile(fn, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}
	err = New(fn).Save("fp/ak/0", []byte{1})
	if !errors.Is(err, fpstorage.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

// Package memory is a RAM-only Settings backend. It can inject failures into
// individual operations, which makes it the backend of choice for exercising
// rollback paths.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrInjected is returned by an operation selected with FailOn or FailNth.
var ErrInjected = errors.New("injected settings failure")

// Op selects the kind of operation a fault applies to.
type Op int

const (
	OpSave Op = iota
	OpDelete
	OpLoad
)

type fault struct {
	op     Op
	prefix string
	// skip counts matching calls that still succeed before the fault fires.
	skip    int
	persist bool
}

// Store is an in-memory Settings implementation.
type Store struct {
	lock   sync.Mutex
	data   map[string][]byte
	faults []*fault
	saves  int
}

func New() *Store {
	return &Store{data: map[string][]byte{}}
}

func (s *Store) Load(prefix string, fn func(name string, value []byte) error) error {
	s.lock.Lock()
	if err := s.trip(OpLoad, prefix); err != nil {
		s.lock.Unlock()
		return err
	}
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	values := make([][]byte, len(names))
	for i, name := range names {
		values[i] = append([]byte(nil), s.data[name]...)
	}
	s.lock.Unlock()

	for i, name := range names {
		if err := fn(name, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Save(name string, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.trip(OpSave, name); err != nil {
		return err
	}
	s.data[name] = append([]byte(nil), value...)
	s.saves++
	return nil
}

func (s *Store) Delete(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.trip(OpDelete, name); err != nil {
		return err
	}
	delete(s.data, name)
	return nil
}

// Get returns a copy of the value stored under name.
func (s *Store) Get(name string) ([]byte, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	v, ok := s.data[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Names returns all stored names in sorted order.
func (s *Store) Names() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Saves returns the number of successful Save calls.
func (s *Store) Saves() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.saves
}

// FailOn makes the next op on a name starting with prefix fail once.
func (s *Store) FailOn(op Op, prefix string) {
	s.FailNth(op, prefix, 0)
}

// FailNth lets skip matching calls succeed, then fails the next one once.
func (s *Store) FailNth(op Op, prefix string, skip int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults = append(s.faults, &fault{op: op, prefix: prefix, skip: skip})
}

// FailAlways makes every op on a name starting with prefix fail until
// ClearFaults is called.
func (s *Store) FailAlways(op Op, prefix string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults = append(s.faults, &fault{op: op, prefix: prefix, persist: true})
}

func (s *Store) ClearFaults() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.faults = nil
}

func (s *Store) trip(op Op, name string) error {
	for i, f := range s.faults {
		if f.op != op || !strings.HasPrefix(name, f.prefix) {
			continue
		}
		if f.skip > 0 {
			f.skip--
			continue
		}
		if !f.persist {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		return errors.Wrapf(ErrInjected, "%s", name)
	}
	return nil
}

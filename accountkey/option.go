package accountkey

import (
	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

const (
	DefaultCapacity     = 5
	DefaultBondCapacity = 8
	maxBondCapacity     = 99
)

// An Option is a configuration function, which configures the store.
type Option func(*Store) error

// OptCapacity sets how many Account Keys are kept before the least recently
// used one is evicted.
func OptCapacity(n int) Option {
	return func(s *Store) error {
		if n < 1 || n > MaxCapacity {
			return errors.Wrapf(fpstorage.ErrInvalidArgument, "capacity %d not in [1, %d]", n, MaxCapacity)
		}
		s.ids = idSpace{capacity: uint8(n)}
		return nil
	}
}

// OptBondCapacity sets the number of bond record slots. Size it to the number
// of simultaneous connections plus paired devices.
func OptBondCapacity(n int) Option {
	return func(s *Store) error {
		if n < 1 || n > maxBondCapacity {
			return errors.Wrapf(fpstorage.ErrInvalidArgument, "bond capacity %d not in [1, %d]", n, maxBondCapacity)
		}
		s.bondCap = n
		return nil
	}
}

// OptBondKeeping ties Account Keys to link-layer bonds. A BondRequester must
// be registered before Enable when it is on.
func OptBondKeeping(on bool) Option {
	return func(s *Store) error {
		s.bondKeeping = on
		return nil
	}
}

func OptLogger(l fpstorage.Logger) Option {
	return func(s *Store) error {
		if l == nil {
			return errors.Wrap(fpstorage.ErrInvalidArgument, "nil logger")
		}
		s.log = l
		return nil
	}
}

// OptObserver installs a sink for store events, typically metrics.
func OptObserver(o Observer) Option {
	return func(s *Store) error {
		if o == nil {
			o = nopObserver{}
		}
		s.obs = o
		return nil
	}
}

// Observer is notified of store events.
type Observer interface {
	KeysStored(n int)
	KeySaved(evicted bool)
	// BestEffortFailed reports a persistence failure that was logged and
	// not returned to the caller.
	BestEffortFailed(record string)
	BondPurged(reason string)
}

type nopObserver struct{}

func (nopObserver) KeysStored(int)          {}
func (nopObserver) KeySaved(bool)           {}
func (nopObserver) BestEffortFailed(string) {}
func (nopObserver) BondPurged(string)       {}

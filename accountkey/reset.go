package accountkey

import (
	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

// Reset erases every Account Key, the recency order and every bond record,
// and asks the connection stack to drop the bonds behind those records. It
// can be called again after an interruption and then finishes the job. A
// store that was enabled is enabled again afterwards.
func (s *Store) Reset() error {
	wasEnabled := s.enabled
	requester := s.requester

	bonds, err := s.bondsToReset()
	if err != nil {
		return err
	}

	if wasEnabled {
		if err := s.Disable(); err != nil {
			return err
		}
	}

	for index := 0; index < int(s.ids.capacity); index++ {
		if err := s.settings.Delete(keyName(index)); err != nil {
			return storageErr("delete", keyName(index), err)
		}
	}

	if s.bondKeeping {
		for _, b := range bonds {
			if requester == nil {
				s.log.Warnf("no bond requester registered, keeping bond %s in the stack", b.addr)
			} else if err := requester.BondRemove(b.addr); err != nil {
				if errors.Is(err, fpstorage.ErrNotFound) {
					// an earlier reset was interrupted after the bond was
					// removed but before its record was deleted
					s.log.Warnf("bond %s already removed", b.addr)
				} else {
					s.log.Errorf("failed to remove bond %s: %v", b.addr, err)
				}
			}
		}

		for index := 0; index < s.bondCap; index++ {
			if err := s.settings.Delete(bondName(index)); err != nil {
				return storageErr("delete", bondName(index), err)
			}
		}
	}

	if err := s.settings.Delete(orderName); err != nil {
		return storageErr("delete", orderName, err)
	}

	s.RAMClear()
	s.requester = requester
	s.obs.KeysStored(0)

	if wasEnabled {
		return s.Enable()
	}

	return nil
}

// bondsToReset lists the bond records to drop. A disabled store has no RAM
// state, so the records are read back from settings; parse errors are
// ignored since the records are about to be deleted anyway.
func (s *Store) bondsToReset() ([]bondRecord, error) {
	if !s.bondKeeping {
		return nil, nil
	}

	if s.enabled {
		var out []bondRecord
		for i, b := range s.t.bonds {
			if !b.empty() {
				out = append(out, bondRecord{index: i, keyID: b.keyID, addr: b.addr})
			}
		}
		return out, nil
	}

	recs := newRecords(s.ids, s.bondCap, s.bondKeeping, s.log)
	if err := readRecords(s.settings, recs); err != nil {
		return nil, errors.Wrap(err, "failed to read bonds to reset")
	}
	if recs.err != nil {
		s.log.Warnf("ignoring unreadable records during reset: %v", recs.err)
	}

	out := recs.bonds[:0]
	for _, b := range recs.bonds {
		if !b.addr.IsAny() {
			out = append(out, b)
		}
	}
	return out, nil
}

package accountkey

import (
	"fmt"

	"github.com/rigado/fpstorage"
)

// validate runs over freshly applied records. Key table and order problems
// are fatal; bad bond records are dropped one by one.
func (s *Store) validate() error {
	if err := s.validateKeys(); err != nil {
		return err
	}

	if err := s.validateOrder(); err != nil {
		return err
	}

	if s.bondKeeping {
		s.validateBonds()
	}

	return nil
}

// validateKeys requires occupied slots to form a prefix of the table. Until
// the table has been full once, slot i holds id MinID+i.
func (s *Store) validateKeys() error {
	t := s.t
	firstZero := -1

	for i := range t.keys {
		id := t.keys[i].meta.ID()
		if id == 0 {
			firstZero = i
			break
		}
		if s.ids.index(id) != i {
			return &fpstorage.CorruptError{Name: keyName(i), Reason: fmt.Sprintf("id %d in wrong slot", id)}
		}
	}

	if firstZero < 0 {
		t.count = len(t.keys)
		return nil
	}

	for i := 0; i < firstZero; i++ {
		if id := t.keys[i].meta.ID(); id != MinID+uint8(i) {
			return &fpstorage.CorruptError{Name: keyName(i), Reason: fmt.Sprintf("id %d before the table was ever full", id)}
		}
	}
	for i := firstZero + 1; i < len(t.keys); i++ {
		if t.keys[i].meta.ID() != 0 {
			return &fpstorage.CorruptError{Name: keyName(i), Reason: fmt.Sprintf("key after empty slot %d", firstZero)}
		}
	}

	t.count = firstZero
	return nil
}

func (s *Store) validateBonds() {
	t := s.t

	// a procedure cannot survive a restart
	for i := range t.bonds {
		t.bonds[i].conn = nil
	}

	for i := range t.bonds {
		if t.bonds[i].empty() {
			continue
		}
		t.bonds[i].bonded = s.requester.IsAddrBonded(t.bonds[i].addr)
		if t.bonds[i].bonded {
			s.log.Debugf("loaded bond %s found in the bond list", t.bonds[i].addr)
		}
	}

	s.collapseDuplicateBonds()
	s.purgeInvalidBonds()
	s.removeBondsWithInvalidID(true)
}

// collapseDuplicateBonds keeps one record per address. A bonded record with
// a key id is preferred, then any bonded record, then the first one.
func (s *Store) collapseDuplicateBonds() {
	t := s.t

	for i := range t.bonds {
		if t.bonds[i].empty() {
			continue
		}

		group := []int{i}
		for j := i + 1; j < len(t.bonds); j++ {
			if t.bonds[j].addr == t.bonds[i].addr {
				group = append(group, j)
			}
		}
		if len(group) == 1 {
			continue
		}

		keep := group[0]
		best := -1
		for _, j := range group {
			rank := 0
			if t.bonds[j].bonded {
				rank++
				if t.bonds[j].keyID != keyIDUnknown {
					rank++
				}
			}
			if rank > best {
				best = rank
				keep = j
			}
		}

		for _, j := range group {
			if j == keep {
				continue
			}
			s.log.Debugf("removing duplicated bond entry %d for %s", j, t.bonds[j].addr)
			if err := s.deleteBond(j); err != nil {
				s.log.Errorf("failed to delete bond: %v", err)
				continue
			}
			s.obs.BondPurged("duplicate")
		}
	}
}

// purgeInvalidBonds drops records without a live bond and removes bonds
// whose procedure never wrote an Account Key.
func (s *Store) purgeInvalidBonds() {
	t := s.t

	for i := range t.bonds {
		if t.bonds[i].empty() {
			continue
		}

		if !t.bonds[i].bonded {
			s.log.Debug("deleting not bonded entry")
			if err := s.deleteBond(i); err != nil {
				s.log.Errorf("failed to delete bond: %v", err)
				continue
			}
			s.obs.BondPurged("not_bonded")
			continue
		}

		if t.bonds[i].keyID == keyIDUnknown {
			s.log.Debugf("removing bond %s of an unfinished procedure", t.bonds[i].addr)
			if err := s.removeBondCompletely(i, true); err != nil {
				s.log.Errorf("failed to remove bond: %v", err)
				continue
			}
			s.obs.BondPurged("unfinished")
		}
	}
}

package accountkey

import "github.com/rigado/fpstorage"

// leastRecentID is only meaningful when the table is full.
func (t *tables) leastRecentID() uint8 {
	return t.order[len(t.order)-1]
}

// orderUse moves id to the front of the recency order. An id that is not in
// the order yet pushes the last entry out.
func (t *tables) orderUse(id uint8) {
	pos := t.count - 1
	for i := 0; i < t.count; i++ {
		if t.order[i] == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}

	copy(t.order[1:pos+1], t.order[:pos])
	t.order[0] = id
}

// saveOrderBestEffort persists the order. RAM stays authoritative on failure;
// the order may then differ after the next enable.
func (s *Store) saveOrderBestEffort() {
	if err := s.settings.Save(orderName, s.t.order); err != nil {
		s.log.Errorf("unable to save account key order, keeping the updated order in RAM only: %v", err)
		s.obs.BestEffortFailed(orderName)
	}
}

// validateOrder checks the loaded recency order against the loaded keys. Ids
// in the order without a key, and duplicates, are dropped. Keys missing from
// the order are inserted at the front in slot order. A repaired order is
// persisted.
func (s *Store) validateOrder() error {
	t := s.t

	for i := t.count; i < len(t.order); i++ {
		if t.order[i] != 0 {
			return &fpstorage.CorruptError{Name: orderName, Reason: "ids beyond the number of stored keys"}
		}
	}

	seen := make(map[uint8]bool, t.count)
	kept := make([]uint8, 0, t.count)
	for _, id := range t.order[:t.count] {
		if t.idLive(id) && !seen[id] {
			seen[id] = true
			kept = append(kept, id)
		}
	}

	if len(kept) == t.count {
		return nil
	}

	repaired := make([]uint8, 0, len(t.order))
	for i := t.count - 1; i >= 0; i-- {
		id := t.keys[i].meta.ID()
		if !seen[id] {
			repaired = append(repaired, id)
		}
	}
	repaired = append(repaired, kept...)

	for i := range t.order {
		t.order[i] = 0
	}
	copy(t.order, repaired)

	s.log.Debugf("account key order repaired: %v", t.order)

	if err := s.settings.Save(orderName, t.order); err != nil {
		return storageErr("save", orderName, err)
	}

	return nil
}

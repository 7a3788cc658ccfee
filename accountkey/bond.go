package accountkey

import (
	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

// keyIDUnknown marks a bond whose Account Key has not been written yet.
const keyIDUnknown uint8 = 0

type bondEntry struct {
	conn   ConnContext
	bonded bool
	keyID  uint8
	addr   fpstorage.Addr
}

func (b bondEntry) empty() bool {
	return b.addr.IsAny()
}

// BondInfo is a snapshot of one bond record.
type BondInfo struct {
	Index        int
	Addr         fpstorage.Addr
	AccountKeyID uint8
	Bonded       bool
	InProgress   bool
}

func (t *tables) bondByConn(conn ConnContext) int {
	for i := range t.bonds {
		if !t.bonds[i].empty() && t.bonds[i].conn == conn {
			return i
		}
	}
	return -1
}

func (t *tables) freeBond() int {
	for i := range t.bonds {
		if t.bonds[i].empty() {
			return i
		}
	}
	return -1
}

func (t *tables) bondedByAddr(addr fpstorage.Addr) int {
	for i := range t.bonds {
		if t.bonds[i].bonded && t.bonds[i].addr == addr {
			return i
		}
	}
	return -1
}

// bondedDuplicate finds another bonded slot for addr owned by a different
// connection, left behind by an interrupted procedure.
func (t *tables) bondedDuplicate(self int, conn ConnContext, addr fpstorage.Addr) int {
	for i := range t.bonds {
		if i != self && t.bonds[i].conn != conn && t.bonds[i].bonded && t.bonds[i].addr == addr {
			return i
		}
	}
	return -1
}

func (s *Store) saveBond(index int, b bondEntry) error {
	rec := bondRecord{index: index, keyID: b.keyID, addr: b.addr}
	if err := s.settings.Save(bondName(index), rec.encode()); err != nil {
		return storageErr("save", bondName(index), err)
	}
	return nil
}

func (s *Store) deleteBond(index int) error {
	if err := s.settings.Delete(bondName(index)); err != nil {
		return storageErr("delete", bondName(index), err)
	}
	s.t.bonds[index] = bondEntry{}
	return nil
}

// removeBondCompletely drops the link-layer bond when there is one and the
// record otherwise. At runtime the record of a bonded peer is deleted when
// the stack reports the removal through Delete; with direct set, or when the
// stack no longer knows the bond, it is deleted here.
func (s *Store) removeBondCompletely(index int, direct bool) error {
	b := s.t.bonds[index]

	if b.bonded {
		err := s.requester.BondRemove(b.addr)
		switch {
		case err == nil:
			if !direct {
				s.log.Debugf("bond %s removal requested", b.addr)
				if s.t.bonds[index].addr == b.addr {
					s.t.bonds[index].conn = nil
				}
				return nil
			}
		case errors.Is(err, fpstorage.ErrNotFound):
			s.log.Debugf("bond %s already removed from the stack", b.addr)
		default:
			return errors.Wrapf(err, "failed to remove bond %s", b.addr)
		}
	}

	if err := s.deleteBond(index); err != nil {
		return err
	}

	s.log.Debug("bond removed successfully")
	return nil
}

// removeBondsWithInvalidID removes bonds associated with an id that no stored
// key carries, such as the id of a key that was just overwritten.
func (s *Store) removeBondsWithInvalidID(direct bool) {
	for i, b := range s.t.bonds {
		if b.empty() || b.keyID == keyIDUnknown || s.t.idLive(b.keyID) {
			continue
		}
		s.log.Debugf("removing bond %s associated with invalid account key id %d", b.addr, b.keyID)
		if err := s.removeBondCompletely(i, direct); err != nil {
			s.log.Errorf("failed to remove bond: %v", err)
			continue
		}
		s.obs.BondPurged("invalid_key_id")
	}
}

func (s *Store) bondCheck(conn ConnContext) error {
	if !s.bondKeeping {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "bond keeping disabled")
	}
	if !s.enabled {
		return fpstorage.ErrDisabled
	}
	if conn == nil {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "nil connection context")
	}
	return nil
}

// ConnCreate starts tracking a procedure on conn with peer addr. key is the
// Account Key the peer proved to hold, or nil for an initial pairing.
func (s *Store) ConnCreate(conn ConnContext, addr fpstorage.Addr, key *fpstorage.AccountKey) error {
	if err := s.bondCheck(conn); err != nil {
		return err
	}
	if addr.IsAny() {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "empty address")
	}

	t := s.t
	if t.bondByConn(conn) >= 0 {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "procedure already in progress for connection")
	}

	id := keyIDUnknown
	if key != nil {
		i := t.keyIndex(*key)
		if i < 0 {
			return errors.Wrap(fpstorage.ErrNotFound, "account key")
		}
		id = t.keys[i].meta.ID()
	}

	index := t.freeBond()
	if index < 0 {
		return fpstorage.ErrOutOfMemory
	}

	b := bondEntry{conn: conn, keyID: id, addr: addr}
	if err := s.saveBond(index, b); err != nil {
		return err
	}
	t.bonds[index] = b

	return nil
}

// ConnConfirm records that conn's peer is now bonded. Stale bonded records
// for the same address are deleted. A procedure that already carries a key
// id is complete at this point.
func (s *Store) ConnConfirm(conn ConnContext, addr fpstorage.Addr) error {
	if err := s.bondCheck(conn); err != nil {
		return err
	}

	t := s.t
	index := t.bondByConn(conn)
	if index < 0 {
		return nil
	}

	t.bonds[index].bonded = true

	for {
		dup := t.bondedDuplicate(index, conn, addr)
		if dup < 0 {
			break
		}
		if err := s.deleteBond(dup); err != nil {
			s.log.Errorf("failed to delete bond: %v", err)
			break
		}
		s.log.Debug("deleted duplicated bond")
		s.obs.BondPurged("duplicate")
	}

	if t.bonds[index].keyID != keyIDUnknown {
		t.bonds[index].conn = nil
	}

	return nil
}

// ConnAddrUpdate replaces the peer address of conn's procedure, e.g. once the
// identity address behind a resolvable private address is known.
func (s *Store) ConnAddrUpdate(conn ConnContext, addr fpstorage.Addr) error {
	if err := s.bondCheck(conn); err != nil {
		return err
	}
	if addr.IsAny() {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "empty address")
	}

	index := s.t.bondByConn(conn)
	if index < 0 {
		return nil
	}

	upd := s.t.bonds[index]
	upd.addr = addr
	if err := s.saveBond(index, upd); err != nil {
		return err
	}
	s.t.bonds[index] = upd

	return nil
}

// ConnCancel aborts conn's unfinished procedure and removes its bond.
func (s *Store) ConnCancel(conn ConnContext) error {
	if err := s.bondCheck(conn); err != nil {
		return err
	}

	index := s.t.bondByConn(conn)
	if index < 0 {
		return nil
	}

	if err := s.removeBondCompletely(index, false); err != nil {
		s.log.Errorf("failed to remove bond: %v", err)
		return err
	}

	return nil
}

// Delete is called by the connection stack after the bond with addr was
// removed, whoever requested it.
func (s *Store) Delete(addr fpstorage.Addr) error {
	if !s.bondKeeping {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "bond keeping disabled")
	}
	if !s.enabled {
		return fpstorage.ErrDisabled
	}

	s.log.Debug("bond deleted")

	index := s.t.bondedByAddr(addr)
	if index < 0 {
		return nil
	}

	if err := s.deleteBond(index); err != nil {
		s.log.Errorf("failed to delete bond: %v", err)
		return err
	}

	return nil
}

// Bonds returns a snapshot of the non-empty bond records.
func (s *Store) Bonds() ([]BondInfo, error) {
	if !s.enabled {
		return nil, fpstorage.ErrDisabled
	}

	var out []BondInfo
	for i, b := range s.t.bonds {
		if b.empty() {
			continue
		}
		out = append(out, BondInfo{
			Index:        i,
			Addr:         b.addr,
			AccountKeyID: b.keyID,
			Bonded:       b.bonded,
			InProgress:   b.conn != nil,
		})
	}
	return out, nil
}

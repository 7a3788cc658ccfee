package accountkey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rigado/fpstorage"
)

// Settings names of the persisted records.
const (
	SubtreeName = "fp"
	keyPrefix   = SubtreeName + "/ak/"
	orderName   = SubtreeName + "/ak_order"
	bondPrefix  = SubtreeName + "/bond/"

	maxIndexDigits = 2
	keyRecordLen   = 1 + fpstorage.AccountKeyLen
	bondRecordLen  = 1 + fpstorage.AddrLen + 1
)

func keyName(index int) string  { return keyPrefix + strconv.Itoa(index) }
func bondName(index int) string { return bondPrefix + strconv.Itoa(index) }

type keyRecord struct {
	index int
	meta  Metadata
	key   fpstorage.AccountKey
}

func (r keyRecord) encode() []byte {
	out := make([]byte, 0, keyRecordLen)
	out = append(out, byte(r.meta))
	return append(out, r.key[:]...)
}

type bondRecord struct {
	index int
	keyID uint8
	addr  fpstorage.Addr
}

func (r bondRecord) encode() []byte {
	out := make([]byte, 0, bondRecordLen)
	out = append(out, r.keyID)
	return append(out, r.addr.Bytes()...)
}

// records is the typed result of replaying the settings subtree. Parsing
// keeps going after a bad record so that callers which only need the bond
// list (factory reset) can still use it; err holds the first failure.
type records struct {
	keys  []keyRecord
	order []uint8
	bonds []bondRecord
	err   error

	ids         idSpace
	bondCap     int
	bondKeeping bool
	log         fpstorage.Logger
	seenKeys    map[int]bool
}

func newRecords(ids idSpace, bondCap int, bondKeeping bool, log fpstorage.Logger) *records {
	return &records{
		ids:         ids,
		bondCap:     bondCap,
		bondKeeping: bondKeeping,
		log:         log,
		seenKeys:    map[int]bool{},
	}
}

// readRecords replays every record under the subtree. The returned error is
// only the backend's own failure; per-record problems are left in r.err.
func readRecords(settings fpstorage.Settings, r *records) error {
	return settings.Load(SubtreeName+"/", func(name string, value []byte) error {
		if err := r.add(name, value); err != nil && r.err == nil {
			r.err = err
		}
		return nil
	})
}

func (r *records) add(name string, value []byte) error {
	switch {
	case name == orderName:
		return r.addOrder(name, value)
	case strings.HasPrefix(name, keyPrefix):
		return r.addKey(name, value)
	case strings.HasPrefix(name, bondPrefix):
		if !r.bondKeeping {
			r.log.Warnf("ignoring %s, bond keeping is disabled", name)
			return nil
		}
		return r.addBond(name, value)
	default:
		return &fpstorage.CorruptError{Name: name, Reason: "unknown record"}
	}
}

func (r *records) addKey(name string, value []byte) error {
	if len(value) != keyRecordLen {
		return &fpstorage.CorruptError{Name: name, Reason: fmt.Sprintf("length %d, want %d", len(value), keyRecordLen)}
	}

	meta := Metadata(value[0])
	if meta.reservedBits() != 0 {
		return &fpstorage.CorruptError{Name: name, Reason: "reserved metadata bits set"}
	}
	id := meta.ID()
	if !r.ids.valid(id) {
		return &fpstorage.CorruptError{Name: name, Reason: fmt.Sprintf("id %d out of range", id)}
	}

	index, err := parseIndex(name[len(keyPrefix):])
	if err != nil {
		return &fpstorage.CorruptError{Name: name, Reason: err.Error()}
	}
	if index != r.ids.index(id) {
		return &fpstorage.CorruptError{Name: name, Reason: fmt.Sprintf("id %d does not belong to slot %d", id, index)}
	}
	if r.seenKeys[index] {
		return &fpstorage.CorruptError{Name: name, Reason: "duplicate slot"}
	}
	r.seenKeys[index] = true

	rec := keyRecord{index: index, meta: meta}
	copy(rec.key[:], value[1:])
	r.keys = append(r.keys, rec)
	return nil
}

func (r *records) addOrder(name string, value []byte) error {
	if len(value) != int(r.ids.capacity) {
		return &fpstorage.CorruptError{Name: name, Reason: fmt.Sprintf("length %d, want %d", len(value), r.ids.capacity)}
	}
	r.order = append([]uint8(nil), value...)
	return nil
}

func (r *records) addBond(name string, value []byte) error {
	if len(value) != bondRecordLen {
		return &fpstorage.CorruptError{Name: name, Reason: fmt.Sprintf("length %d, want %d", len(value), bondRecordLen)}
	}

	index, err := parseIndex(name[len(bondPrefix):])
	if err != nil {
		return &fpstorage.CorruptError{Name: name, Reason: err.Error()}
	}
	if index >= r.bondCap {
		return &fpstorage.CorruptError{Name: name, Reason: fmt.Sprintf("slot %d exceeds bond capacity %d", index, r.bondCap)}
	}

	addr, err := fpstorage.AddrFromBytes(value[1:])
	if err != nil {
		return &fpstorage.CorruptError{Name: name, Reason: err.Error()}
	}

	r.bonds = append(r.bonds, bondRecord{index: index, keyID: value[0], addr: addr})
	r.log.Debugf("bond %d loaded", index)
	return nil
}

func parseIndex(suffix string) (int, error) {
	if len(suffix) < 1 || len(suffix) > maxIndexDigits {
		return 0, fmt.Errorf("bad slot suffix %q", suffix)
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("bad slot suffix %q", suffix)
		}
	}
	return strconv.Atoi(suffix)
}

package fpstorage

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AddrType is the link-layer address type of a peer.
type AddrType uint8

const (
	AddrPublic AddrType = iota
	AddrRandom
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// AddrLen is the length of a link-layer address without its type.
const AddrLen = 6

// Addr is a link-layer peer address with its type.
// Val is stored most significant byte first, as it is printed.
type Addr struct {
	Type AddrType
	Val  [AddrLen]byte
}

// AddrAny marks an unused bond slot. It is the zero value of Addr.
var AddrAny = Addr{}

// ParseAddr parses "aa:bb:cc:dd:ee:ff" with an optional "/random" or
// "/public" suffix. Without a suffix the address is public.
func ParseAddr(s string) (Addr, error) {
	var a Addr

	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '/'); i >= 0 {
		switch s[i+1:] {
		case "public":
			a.Type = AddrPublic
		case "random":
			a.Type = AddrRandom
		default:
			return AddrAny, errors.Wrapf(ErrInvalidArgument, "unknown address type %q", s[i+1:])
		}
		s = s[:i]
	}

	b, err := hex.DecodeString(strings.Replace(s, ":", "", -1))
	if err != nil {
		return AddrAny, errors.Wrapf(ErrInvalidArgument, "address %q: %v", s, err)
	}
	if len(b) != AddrLen {
		return AddrAny, errors.Wrapf(ErrInvalidArgument, "address %q: want %d bytes, got %d", s, AddrLen, len(b))
	}
	copy(a.Val[:], b)

	return a, nil
}

// MustParseAddr is like ParseAddr but panics on error.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Addr) IsAny() bool {
	return a == AddrAny
}

func (a Addr) String() string {
	var sb strings.Builder
	for i, b := range a.Val {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{b}))
	}
	sb.WriteByte('/')
	sb.WriteString(a.Type.String())
	return sb.String()
}

// Bytes returns the type byte followed by the address.
func (a Addr) Bytes() []byte {
	out := make([]byte, 0, AddrLen+1)
	out = append(out, byte(a.Type))
	return append(out, a.Val[:]...)
}

// AddrFromBytes is the inverse of Addr.Bytes.
func AddrFromBytes(b []byte) (Addr, error) {
	var a Addr
	if len(b) != AddrLen+1 {
		return AddrAny, errors.Wrapf(ErrInvalidArgument, "address record: want %d bytes, got %d", AddrLen+1, len(b))
	}
	a.Type = AddrType(b[0])
	copy(a.Val[:], b[1:])
	return a, nil
}

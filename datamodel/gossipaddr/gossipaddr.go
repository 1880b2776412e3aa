// Package gossipaddr defines the broadcastable network address value.
// An Addr is immutable, its identity is its content, and it carries no state
// beyond the address itself. It is only ever a message payload.
package gossipaddr

import (
	"errors"
	"net/netip"
)

var ErrUnspecified = errors.New("gossip address must be a specific ip:port")

// Addr wraps an ip:port. The zero value is invalid.
type Addr struct {
	ap netip.AddrPort
}

func New(ap netip.AddrPort) (Addr, error) {
	if !ap.IsValid() || ap.Addr().IsUnspecified() || ap.Port() == 0 {
		return Addr{}, ErrUnspecified
	}
	return Addr{ap: ap}, nil
}

// Parse parses a textual "ip:port" into an Addr.
func Parse(s string) (Addr, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Addr{}, err
	}
	return New(ap)
}

func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Addr) String() string {
	return a.ap.String()
}

func (a Addr) AddrPort() netip.AddrPort {
	return a.ap
}

func (a Addr) IsValid() bool {
	return a.ap.IsValid()
}

// Equal is structural: two Addrs are the same item iff they wrap the same ip:port.
func (a Addr) Equal(other Addr) bool {
	return a.ap == other.ap
}

// Compare defines a total order over addresses (by ip, then port).
func (a Addr) Compare(other Addr) int {
	if c := a.ap.Addr().Compare(other.ap.Addr()); c != 0 {
		return c
	}
	switch {
	case a.ap.Port() < other.ap.Port():
		return -1
	case a.ap.Port() > other.ap.Port():
		return 1
	}
	return 0
}

func (a Addr) MarshalBinary() ([]byte, error) {
	return a.ap.MarshalBinary()
}

func (a *Addr) UnmarshalBinary(data []byte) error {
	var ap netip.AddrPort
	if err := ap.UnmarshalBinary(data); err != nil {
		return err
	}
	parsed, err := New(ap)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Addr) MarshalText() ([]byte, error) {
	return a.ap.MarshalText()
}

func (a *Addr) UnmarshalText(text []byte) error {
	var ap netip.AddrPort
	if err := ap.UnmarshalText(text); err != nil {
		return err
	}
	parsed, err := New(ap)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

package models

import (
	"fmt"
	"net/netip"
	"time"
)

// RelayFlag is a capability flag assigned by the directory authorities.
type RelayFlag string

const (
	FlagAuthority RelayFlag = "Authority"
	FlagBadExit   RelayFlag = "BadExit"
	FlagExit      RelayFlag = "Exit"
	FlagFast      RelayFlag = "Fast"
	FlagGuard     RelayFlag = "Guard"
	FlagHSDir     RelayFlag = "HSDir"
	FlagRunning   RelayFlag = "Running"
	FlagStable    RelayFlag = "Stable"
	FlagValid     RelayFlag = "Valid"
	FlagV2Dir     RelayFlag = "V2Dir"
)

// Relay is a single relay record from a directory snapshot.
type Relay struct {
	Fingerprint     string      `json:"fingerprint"`
	Nickname        string      `json:"nickname,omitempty"`
	Address         string      `json:"address"`
	Subnet16        string      `json:"subnet16"`
	Flags           []RelayFlag `json:"flags"`
	ConsensusWeight float64     `json:"consensus_weight"`
	ASNumber        string      `json:"as_number,omitempty"`
	CountryCode     string      `json:"country,omitempty"`
	FirstSeen       time.Time   `json:"first_seen,omitempty"`
	LastSeen        time.Time   `json:"last_seen,omitempty"`
}

// HasFlag reports whether the relay carries the given flag.
func (r Relay) HasFlag(flag RelayFlag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// GuardCapable reports whether the relay may serve as an entry guard.
func (r Relay) GuardCapable() bool {
	return r.HasFlag(FlagGuard)
}

// ExitCapable reports whether the relay may serve as an exit. BadExit relays
// are excluded even when they carry the Exit flag.
func (r Relay) ExitCapable() bool {
	return r.HasFlag(FlagExit) && !r.HasFlag(FlagBadExit)
}

// DeriveSubnet16 maps an IP address to its /16 grouping key. Relay selection
// forbids two relays from the same /16; IPv6 addresses are keyed individually
// so they never collide.
func DeriveSubnet16(address string) string {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return address
	}
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.0.0/16", b[0], b[1])
	}
	return addr.String()
}

package device

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HardwareAddress is a BLE device address in canonical form: six
// upper-case hex octets separated by colons ("AA:BB:CC:DD:EE:FF").
//
// The zero value is not a valid address. Use ParseAddress to construct one.
type HardwareAddress string

// addressOctets is the number of octets in a BLE hardware address.
const addressOctets = 6

// ParseAddress normalises a hardware address.
//
// Accepted input forms, in any letter case:
//   - "aa:bb:cc:dd:ee:ff"
//   - "aa-bb-cc-dd-ee-ff"
//   - "aabbccddeeff"
//
// Returns ErrInvalidAddress for anything else.
func ParseAddress(s string) (HardwareAddress, error) {
	raw := strings.TrimSpace(s)

	var digits string
	switch len(raw) {
	case addressOctets * 2:
		digits = raw
	case addressOctets*3 - 1:
		sep := raw[2]
		if sep != ':' && sep != '-' {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		var b strings.Builder
		for i := 0; i < len(raw); i++ {
			if i%3 == 2 {
				if raw[i] != sep {
					return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
				}
				continue
			}
			b.WriteByte(raw[i])
		}
		digits = b.String()
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	octets, err := hex.DecodeString(digits)
	if err != nil || len(octets) != addressOctets {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	return addressFromOctets(octets), nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for tests and constant addresses.
func MustParseAddress(s string) HardwareAddress {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func addressFromOctets(octets []byte) HardwareAddress {
	parts := make([]string, len(octets))
	for i, o := range octets {
		parts[i] = fmt.Sprintf("%02X", o)
	}
	return HardwareAddress(strings.Join(parts, ":"))
}

// String returns the canonical colon form.
func (a HardwareAddress) String() string {
	return string(a)
}

// IsZero reports whether the address is unset.
func (a HardwareAddress) IsZero() bool {
	return a == ""
}

package ble

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// Address is a normalized Bluetooth device address: 12 uppercase
// hexadecimal characters, no separators (e.g. "C6D2E1A7B349").
type Address string

// ParseAddress normalizes a MAC address given either as bare hex
// ("c6d2e1a7b349") or with ':' / '-' separators.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) == 12 {
		if _, err := hex.DecodeString(s); err != nil {
			return "", fmt.Errorf("invalid address %q: %w", s, err)
		}
		return Address(strings.ToUpper(s)), nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid address %q: expected 6 bytes, got %d", s, len(hw))
	}
	return AddressFromBytes(hw), nil
}

// AddressFromBytes builds an Address from 6 bytes in display order.
func AddressFromBytes(b []byte) Address {
	return Address(strings.ToUpper(hex.EncodeToString(b)))
}

// AddressFromLittleEndian builds an Address from the 6 bytes found in an
// HCI event, which carries the address least significant byte first.
func AddressFromLittleEndian(b []byte) Address {
	r := make([]byte, len(b))
	for i := range b {
		r[len(b)-1-i] = b[i]
	}
	return AddressFromBytes(r)
}

// Bytes returns the 6 address bytes in display order, or nil if the
// address is not well-formed.
func (a Address) Bytes() []byte {
	b, err := hex.DecodeString(string(a))
	if err != nil || len(b) != 6 {
		return nil
	}
	return b
}

// String renders the address with colons, the way hcitool prints it.
func (a Address) String() string {
	b := a.Bytes()
	if b == nil {
		return string(a)
	}
	return net.HardwareAddr(b).String()
}

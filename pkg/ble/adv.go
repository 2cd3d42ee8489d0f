package ble

import "encoding/binary"

// Advertising data (AD) structure types, see Bluetooth Core Supplement part A.
const (
	ADFlags            byte = 0x01
	ADCompleteName     byte = 0x09
	ADServiceData16    byte = 0x16
	ADManufacturerData byte = 0xFF
)

// RuuviCompanyID is the Bluetooth SIG company identifier assigned to Ruuvi Innovations.
const RuuviCompanyID uint16 = 0x0499

// Structure is one length-prefixed AD structure of an advertisement.
type Structure struct {
	Type byte
	Data []byte
}

// Structures splits advertisement data into its AD structures. A zero
// length byte ends the significant part of the advertisement. ok is
// false when a length prefix points past the end of the buffer.
func Structures(adv []byte) (s []Structure, ok bool) {
	for i := 0; i < len(adv); {
		l := int(adv[i])
		if l == 0 {
			break
		}
		if i+1+l > len(adv) {
			return s, false
		}
		s = append(s, Structure{Type: adv[i+1], Data: adv[i+2 : i+1+l]})
		i += 1 + l
	}
	return s, true
}

// ManufacturerData returns the bytes following the company identifier of
// the manufacturer-specific AD structure, if the advertisement carries one
// for the given company. Advertisements from other vendors, truncated
// structures or missing manufacturer sections are simply not applicable.
func ManufacturerData(adv []byte, company uint16) ([]byte, bool) {
	structures, ok := Structures(adv)
	if !ok {
		return nil, false
	}
	for _, st := range structures {
		if st.Type != ADManufacturerData || len(st.Data) < 2 {
			continue
		}
		if binary.LittleEndian.Uint16(st.Data[:2]) != company {
			continue
		}
		return st.Data[2:], true
	}
	return nil, false
}

// LocalName returns the complete local name AD structure, if any.
func LocalName(adv []byte) string {
	structures, _ := Structures(adv)
	for _, st := range structures {
		if st.Type == ADCompleteName {
			return string(st.Data)
		}
	}
	return ""
}

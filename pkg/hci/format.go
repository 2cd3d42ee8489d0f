package hci

import (
	"fmt"
	"strings"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
)

const bytesPerLine = 20

// DumpLines renders an LE advertising report for addr the way
// `hcidump --raw` prints it: 20 bytes per line, the first line prefixed
// with "> " and the following ones indented.
func DumpLines(addr ble.Address, rssi int8, adv []byte) []string {
	mac := addr.Bytes()
	p := []byte{packetTypeEvent, eventLEMeta, 0, subeventAdvertReport, 1, 0x03, 0x01}
	for i := len(mac) - 1; i >= 0; i-- {
		p = append(p, mac[i])
	}
	p = append(p, byte(len(adv)))
	p = append(p, adv...)
	p = append(p, byte(rssi))
	p[2] = byte(len(p) - eventHeaderLength)

	var lines []string
	for i := 0; i < len(p); i += bytesPerLine {
		end := min(i+bytesPerLine, len(p))
		var sb strings.Builder
		if i == 0 {
			sb.WriteString(eventStartMarker)
		} else {
			sb.WriteString("  ")
		}
		for j, b := range p[i:end] {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%02X", b)
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// Package decode prints what the collector would publish for a single
// advertisement, without any adapter.
package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/asnowfix/ruuvi-collector/internal/tools"
	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

var flags struct {
	mac  string
	name string
}

var Cmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a RuuviTag advertisement or manufacturer payload",
	Long: `Decode a RuuviTag advertisement given as hex. The input is either the
whole advertisement data (AD structures), the manufacturer data starting
with the 9904 company identifier, or the bare payload starting with its
format byte. Separators and 0x prefixes are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logr.FromContextOrDiscard(cmd.Context())
		e, err := Inspect(args[0], flags.mac, flags.name, time.Now())
		if err != nil {
			log.Error(err, "Failed to decode", "input", args[0])
			return err
		}
		out, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	Cmd.Flags().StringVarP(&flags.mac, "mac", "m", "", "address of the sending tag")
	Cmd.Flags().StringVarP(&flags.name, "name", "n", "", "display name to attach")
}

var ruuviCompany = []byte{byte(ble.RuuviCompanyID & 0xff), byte(ble.RuuviCompanyID >> 8)}

// Inspect decodes input and computes the derived values. Without mac,
// the address embedded in a format 5 payload is used. Without name, the
// advertised local name is used.
func Inspect(input string, mac string, name string, now time.Time) (*ruuvi.Enhanced, error) {
	b, err := tools.ParseHex(input)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if p, ok := ble.ManufacturerData(b, ble.RuuviCompanyID); ok {
		payload = p
		if name == "" {
			name = ble.LocalName(b)
		}
	} else if bytes.HasPrefix(b, ruuviCompany) {
		payload = b[len(ruuviCompany):]
	} else {
		payload = b
	}

	var addr ble.Address
	if mac != "" {
		addr, err = ble.ParseAddress(mac)
		if err != nil {
			return nil, err
		}
	} else {
		addr = embeddedAddress(payload)
	}

	m, err := ruuvi.Decode(addr, payload)
	if err != nil {
		return nil, err
	}
	return ruuvi.Enhance(m, name, now), nil
}

func embeddedAddress(payload []byte) ble.Address {
	if len(payload) < 24 || payload[0] != 5 {
		return ""
	}
	mac := payload[18:24]
	if bytes.Equal(mac, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		return ""
	}
	return ble.AddressFromBytes(mac)
}

package mynet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cidr(t *testing.T, s string) net.Addr {
	t.Helper()
	ip, nw, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return &net.IPNet{IP: ip, Mask: nw.Mask}
}

func TestSelectInterface(t *testing.T) {
	candidates := []candidate{
		{iface: net.Interface{Name: "lo"}, addrs: []net.Addr{cidr(t, "127.0.0.1/8")}},
		{iface: net.Interface{Name: "docker0"}, addrs: []net.Addr{cidr(t, "172.17.0.1/16")}},
		{iface: net.Interface{Name: "wlan0"}, addrs: []net.Addr{cidr(t, "fe80::1/64"), cidr(t, "192.168.1.23/24")}},
	}

	i, err := selectInterface(net.ParseIP("192.168.1.1"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "wlan0", i.Name)

	_, err = selectInterface(net.ParseIP("10.0.0.1"), candidates)
	assert.Error(t, err)
}

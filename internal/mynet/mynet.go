// Package mynet picks the network interfaces service discovery runs on.
package mynet

import (
	"fmt"
	"net"

	"github.com/go-logr/logr"
	"github.com/jackpal/gateway"
)

// Interfaces returns the interface on the same network as the default
// gateway, which is where a broker announced over mDNS is reachable.
func Interfaces(log logr.Logger) ([]net.Interface, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		log.Error(err, "Finding network gateway")
		return nil, err
	}
	log.V(1).Info("Network gateway", "address", gw)

	ifaces, err := net.Interfaces()
	if err != nil {
		log.Error(err, "Listing interfaces")
		return nil, err
	}
	var candidates []candidate
	for _, i := range ifaces {
		addrs, err := i.Addrs()
		if err != nil {
			log.V(1).Info("Skipping interface", "name", i.Name, "error", err)
			continue
		}
		candidates = append(candidates, candidate{iface: i, addrs: addrs})
	}

	i, err := selectInterface(gw, candidates)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("Selected interface", "name", i.Name, "gateway", gw)
	return []net.Interface{i}, nil
}

type candidate struct {
	iface net.Interface
	addrs []net.Addr
}

func selectInterface(gw net.IP, candidates []candidate) (net.Interface, error) {
	for _, c := range candidates {
		for _, a := range c.addrs {
			_, nw, err := net.ParseCIDR(a.String())
			if err != nil {
				continue
			}
			if nw.Contains(gw) {
				return c.iface, nil
			}
		}
	}
	return net.Interface{}, fmt.Errorf("did not find any interface on the same network as the network gateway IP %v", gw)
}

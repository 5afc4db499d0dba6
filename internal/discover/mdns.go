// Package discover makes a sketchroom server findable on the local network
// and produces the address used in share links.
package discover

import (
	"fmt"
	"os"

	"github.com/hashicorp/mdns"
)

const serviceType = "_sketchroom._tcp"

// Advertise registers the server's websocket port as an mDNS service so
// other machines on the LAN can find it without typing an address. The
// returned server must be shut down on exit.
func Advertise(port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := mdns.NewMDNSService(
		host,
		serviceType,
		"", // domain, defaults to .local
		"", // hostname, defaults to the OS hostname
		port,
		nil, // IPs auto-detected
		[]string{"sketchroom"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse looks up sketchroom servers on the LAN and reports each address
// found as host:port.
func Browse(found func(addr string)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	go func() {
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			found(fmt.Sprintf("%s:%d", e.AddrV4.String(), e.Port))
		}
	}()
	err := mdns.Lookup(serviceType, entries)
	close(entries)
	return err
}

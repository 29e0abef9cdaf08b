// Package discovery advertises the server on the local network over mDNS so
// clients on the same LAN can find a board without knowing its address.
package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_sketchroom._tcp"

// NewService describes the server. An empty host uses the OS hostname and
// nil ips are resolved from it.
func NewService(instance string, port int, host string, ips []net.IP) (*mdns.MDNSService, error) {
	if instance == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = name
	}

	info := []string{"sketchroom", "path=/ws"}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", host, port, ips, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Advertise starts answering mDNS queries until the returned server is shut down.
func Advertise(instance string, port int) (*mdns.Server, error) {
	service, err := NewService(instance, port, "", nil)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

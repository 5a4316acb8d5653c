package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"
)

const (
	DefaultServerType = "_meshxfer._udp"
	DefaultDomain     = "local"

	// NodeKey is the TXT record key carrying the mesh node ID
	NodeKey = "node"
)

type ServiceInfo struct {
	Name   string // instance name, e.g. "host-1a2b3c4d"
	Type   string // service type, e.g. "_meshxfer._udp"
	Domain string // domain, e.g. "local"
	Addr   net.IP
	Port   int
	NodeID string // destination to pass to a send
}

// DiscoveryResult carries either a full snapshot of the services seen so far
// or a lookup error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// ServiceName returns the fully qualified name browsed for serviceType
func ServiceName(serviceType, domain string) string {
	return fmt.Sprintf("%s.%s.", serviceType, domain)
}

// CollectPeers browses for mesh nodes for the given duration and returns the
// last snapshot, sorted by instance name.
func CollectPeers(ctx context.Context, adapter Adapter, timeout time.Duration) ([]ServiceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var latest []ServiceInfo
	results := adapter.Discover(ctx, ServiceName(DefaultServerType, DefaultDomain))
	for {
		select {
		case <-ctx.Done():
			return sortServices(latest), nil
		case res, ok := <-results:
			if !ok {
				return sortServices(latest), nil
			}
			if res.Error != nil {
				return nil, res.Error
			}
			latest = res.Services
		}
	}
}

func sortServices(services []ServiceInfo) []ServiceInfo {
	sort.Slice(services, func(i, j int) bool {
		return services[i].Name < services[j].Name
	})
	return services
}

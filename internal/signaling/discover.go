package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service a relay advertises on the local network.
const ServiceType = "_warpcall._tcp"

// Discover browses the local network for a relay and returns its WebSocket URL.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("relay not found on local network (timeout)")
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("relay not found on local network")
			}
			if entry == nil {
				continue
			}
			if len(entry.AddrIPv4) > 0 {
				return fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port), nil
			}
			if len(entry.AddrIPv6) > 0 {
				return fmt.Sprintf("ws://[%s]:%d/ws", entry.AddrIPv6[0], entry.Port), nil
			}
		}
	}
}

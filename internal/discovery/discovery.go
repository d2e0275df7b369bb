// Package discovery finds the Home Assistant instance on the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	serviceType = "_home-assistant._tcp"
	domain      = "local."

	DefaultTimeout = 5 * time.Second
)

// ErrNotFound is returned when no instance answered within the timeout.
var ErrNotFound = errors.New("no Home Assistant instance found")

// Instance is one discovered Home Assistant.
type Instance struct {
	Name    string
	URL     string
	Version string
}

// Find browses for Home Assistant and returns the first usable instance.
func Find(ctx context.Context, timeout time.Duration) (Instance, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Instance{}, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 10)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- resolver.Browse(browseCtx, serviceType, domain, entries)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Instance{}, ErrNotFound
			}
			if instance, ok := fromEntry(entry.Instance, entry.Text, entry.AddrIPv4, entry.Port); ok {
				log.Info().Str("name", instance.Name).Str("url", instance.URL).Msg("Discovered Home Assistant")
				return instance, nil
			}
		case err := <-browseErr:
			if err != nil {
				return Instance{}, fmt.Errorf("mDNS browse failed: %w", err)
			}
			browseErr = nil
		case <-browseCtx.Done():
			return Instance{}, ErrNotFound
		}
	}
}

// fromEntry prefers the URLs announced in the TXT record and falls back to
// the first IPv4 address.
func fromEntry(name string, text []string, addrs []net.IP, port int) (Instance, bool) {
	txt := make(map[string]string, len(text))
	for _, record := range text {
		if k, v, ok := strings.Cut(record, "="); ok {
			txt[k] = v
		}
	}

	instance := Instance{Name: name, Version: txt["version"]}
	for _, key := range []string{"internal_url", "base_url"} {
		if u := strings.TrimRight(txt[key], "/"); u != "" {
			instance.URL = u
			return instance, true
		}
	}

	if len(addrs) == 0 || port == 0 {
		return Instance{}, false
	}
	instance.URL = "http://" + net.JoinHostPort(addrs[0].String(), strconv.Itoa(port))
	return instance, true
}

// Package discovery advertises a host listener over mDNS and lets a
// simulator find one without a configured address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/brutella/dnssd"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD type a host registers under.
const ServiceType = "_enqlink._tcp"

var ErrNotFound = errors.New("discovery: no host found")

type ServiceInfo struct {
	Name   string
	Type   string
	Domain string
	Port   int
	Text   map[string]string
}

// Announce responds to mDNS queries for info until ctx ends.
func Announce(ctx context.Context, info ServiceInfo) error {
	if info.Type == "" {
		info.Type = ServiceType
	}
	if info.Domain == "" {
		info.Domain = "local"
	}
	cfg := dnssd.Config{
		Name:   info.Name,
		Type:   info.Type,
		Domain: info.Domain,
		// multicast answers carry the interface addresses
		IPs:  nil,
		Text: info.Text,
		Port: info.Port,
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("discovery: service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("discovery: responder: %w", err)
	}
	if _, err := rp.Add(service); err != nil {
		return fmt.Errorf("discovery: add service: %w", err)
	}

	log.Info().Str("name", info.Name).Str("type", info.Type).Int("port", info.Port).Msg("discovery.Announce responding")
	if err := rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("discovery: respond: %w", err)
	}
	log.Info().Str("name", info.Name).Msg("discovery.Announce stopped")
	return nil
}

// Lookup returns host:port of the first advertised host seen before ctx
// ends.
func Lookup(ctx context.Context, serviceType string) (string, error) {
	if serviceType == "" {
		serviceType = ServiceType
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan string, 1)
	add := func(e dnssd.BrowseEntry) {
		if len(e.IPs) == 0 {
			return
		}
		addr := net.JoinHostPort(e.IPs[0].String(), strconv.Itoa(e.Port))
		select {
		case found <- addr:
			cancel()
		default:
		}
	}
	remove := func(dnssd.BrowseEntry) {}

	err := dnssd.LookupType(ctx, serviceType+".local.", add, remove)
	select {
	case addr := <-found:
		log.Info().Str("addr", addr).Msg("discovery.Lookup found host")
		return addr, nil
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("discovery: lookup: %w", err)
	}
	return "", ErrNotFound
}

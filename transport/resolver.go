// Copyright (C) 2019 Google LLC. All Rights Reserved.

package transport

import (
	"context"
	"net"
	"strconv"

	"github.com/miekg/dns"
)

// A Kind distinguishes the socket kind an Endpoint resolves for.
type Kind int

const (
	// KindStream selects a stream (TCP) endpoint.
	KindStream Kind = iota
	// KindDatagram selects a datagram (UDP) endpoint. Not otherwise used by
	// this module's client-only scope, but retained as part of the Endpoint
	// data model spec §3 describes.
	KindDatagram
)

// An Endpoint is an unresolved dial target: a host name, a numeric port,
// and a socket kind. It is immutable once constructed.
type Endpoint struct {
	Host string
	Port int
	Kind Kind
}

// Address returns the resolved dial address for ip and e's port; its String
// method renders the host:port form.
func (e Endpoint) Address(ip net.IP) Address { return Address{IP: ip, Port: e.Port} }

// An Address owns a resolved socket address: an IP and a port.
type Address struct {
	IP   net.IP
	Port int
}

// String renders a in host:port (or [host]:port for IPv6) form.
func (a Address) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// A Resolver turns a host name into a list of candidate IP addresses, the
// asynchronous name-resolver external collaborator of spec §1.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// NewResolver constructs the default Resolver: it issues A and AAAA queries
// directly against the system's configured DNS servers (read from
// /etc/resolv.conf) using github.com/miekg/dns, falling back to
// net.DefaultResolver when no server configuration can be read or the
// direct query fails. Parsing resolver configuration beyond that is not
// this module's concern.
func NewResolver() Resolver {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return netResolver{}
	}
	return &dnsResolver{
		client: new(dns.Client),
		server: net.JoinHostPort(cfg.Servers[0], cfg.Port),
		next:   netResolver{},
	}
}

type dnsResolver struct {
	client *dns.Client
	server string
	next   Resolver
}

func (r *dnsResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	var ips []net.IP
	for _, qtype := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		in, _, err := r.client.ExchangeContext(ctx, m, r.server)
		if err != nil {
			continue
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				ips = append(ips, v.A)
			case *dns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return r.next.Resolve(ctx, host)
	}
	return ips, nil
}

// netResolver falls back to the standard library resolver.
type netResolver struct{}

func (netResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, wrapErrno("resolve", err)
	}
	return addrs, nil
}

// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package srv is used to look up the endpoints of an XMPP service and to keep
// track of which of them can currently be used.
package srv // import "mellium.im/xclient/srv"

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// ErrInvalidService is returned when looking up a service other than
// xmpp[s]-client or xmpp[s]-server.
var ErrInvalidService = errors.New("srv: service must be one of xmpp[s]-client or xmpp[s]-server")

// Resolver looks up SRV records.
// *net.Resolver implements Resolver.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

type service struct {
	port uint16
	kind Kind
}

var services = map[string]service{
	"xmpp-client":  {port: 5222, kind: StartTLS},
	"xmpps-client": {port: 5223, kind: DirectTLS},
	"xmpp-server":  {port: 5269, kind: StartTLS},
	"xmpps-server": {port: 5270, kind: DirectTLS},
}

// FallbackRecords returns the record to try when a domain publishes no SRV
// records for service: the domain itself on the default port.
// Unknown services have no fallback.
func FallbackRecords(service, domain string) []Record {
	svc, ok := services[service]
	if !ok {
		return nil
	}
	return []Record{{Kind: svc.kind, Target: domain, Port: svc.port}}
}

// LookupService returns the endpoints of service at domain.
// If the domain has no SRV records for the service, the fallback records are
// returned. If it publishes a single record with the root target "." the
// service is decidedly not available (RFC 6120 §3.2.1) and no records are
// returned.
// Service should be one of "xmpp[s]-client" or "xmpp[s]-server".
func LookupService(ctx context.Context, resolver Resolver, service, domain string) ([]Record, error) {
	svc, ok := services[service]
	if !ok {
		return nil, ErrInvalidService
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	_, addrs, err := resolver.LookupSRV(ctx, service, "tcp", domain)
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return FallbackRecords(service, domain), nil
	case err != nil:
		return nil, err
	case len(addrs) == 1 && addrs[0].Target == ".":
		return nil, nil
	}
	records := make([]Record, 0, len(addrs))
	for _, a := range addrs {
		records = append(records, recordFromSRV(a, svc.kind))
	}
	return records, nil
}

// Lookup looks up both the STARTTLS and the direct TLS client services of the
// domain and returns the combined records.
// A lookup failure of one service is ignored if the other succeeds.
func Lookup(ctx context.Context, resolver Resolver, domain string) (*Result, error) {
	plain, plainErr := LookupService(ctx, resolver, "xmpp-client", domain)
	direct, directErr := LookupService(ctx, resolver, "xmpps-client", domain)
	if plainErr != nil && directErr != nil {
		return nil, errors.Join(plainErr, directErr)
	}
	res := NewResult(domain)
	res.Update(append(plain, direct...))
	return res, nil
}

// LookupAll is like Lookup but also discovers the WebSocket and BOSH endpoints
// published in the domain's host-meta document.
// It only fails if neither source returned an answer.
func LookupAll(ctx context.Context, resolver Resolver, client *http.Client, domain string) (*Result, error) {
	res, srvErr := Lookup(ctx, resolver, domain)
	web, webErr := LookupHostMeta(ctx, client, domain)
	if srvErr != nil && webErr != nil {
		return nil, errors.Join(srvErr, webErr)
	}
	if res == nil {
		res = NewResult(domain)
	}
	res.Update(append(res.Records, web...))
	return res, nil
}

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package srv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
)

// Link relations of XEP-0156 alternative connection methods.
const (
	RelWebSocket = "urn:xmpp:alt-connections:websocket"
	RelBOSH      = "urn:xmpp:alt-connections:xbosh"
)

// hostMetaPriority orders endpoints from host-meta after every SRV endpoint.
const hostMetaPriority = math.MaxUint16

// maxHostMeta bounds the size of a host-meta document.
const maxHostMeta = 1 << 20

// hostMeta is the subset of an RFC 6415 XRD document used for connection
// discovery.
type hostMeta struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD"`
	Links   []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"Link"`
}

// records converts the links of known relations into records.
// Links that are not absolute URLs are skipped.
func (hm hostMeta) records() []Record {
	var out []Record
	for _, l := range hm.Links {
		var kind Kind
		switch l.Rel {
		case RelWebSocket:
			kind = WebSocket
		case RelBOSH:
			kind = BOSH
		default:
			continue
		}
		rec, err := recordFromURL(kind, l.Href)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func recordFromURL(kind Kind, raw string) (Record, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Record{}, err
	}
	if u.Host == "" {
		return Record{}, fmt.Errorf("srv: endpoint %q is not an absolute URL", raw)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "ws", "http":
			port = "80"
		default:
			port = "443"
		}
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Record{}, fmt.Errorf("srv: bad port in %q: %w", raw, err)
	}
	return Record{
		Kind:     kind,
		Target:   u.Hostname(),
		Port:     uint16(p),
		Priority: hostMetaPriority,
		URL:      raw,
	}, nil
}

// LookupHostMeta fetches https://domain/.well-known/host-meta and returns the
// WebSocket (RFC 7395) and BOSH (XEP-0156) endpoints it lists, in document
// order.
// If client is nil http.DefaultClient is used.
func LookupHostMeta(ctx context.Context, client *http.Client, domain string) ([]Record, error) {
	u := url.URL{Scheme: "https", Host: domain, Path: "/.well-known/host-meta"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	/* #nosec */
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("srv: fetching host-meta for %s: %s", domain, resp.Status)
	}

	var hm hostMeta
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxHostMeta)).Decode(&hm); err != nil {
		return nil, fmt.Errorf("srv: decoding host-meta for %s: %w", domain, err)
	}
	return hm.records(), nil
}

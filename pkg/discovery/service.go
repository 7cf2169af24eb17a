// Package discovery finds vehicle video servers on the local network with
// DNS-SD over mDNS and advertises them.
//
// A video server registers the service type _roverfeed._tcp. Its TXT record
// carries the endpoint paths:
//
//	video=/ws/video
//	signaling=/ws/signaling
//	snapshot=/snapshot.jpg
//	name=Rover 7
//
// Values may also be absolute URLs, in which case they are used as is.
package discovery

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DNS-SD names.
const (
	// ServiceVideo is the DNS-SD service type of a vehicle video server.
	ServiceVideo = "_roverfeed._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)

// TXT record keys.
const (
	TXTKeyVideo     = "video"
	TXTKeySignaling = "signaling"
	TXTKeySnapshot  = "snapshot"
	TXTKeyName      = "name"
	TXTKeyTLS       = "tls"
)

// Endpoints are the URLs a stream client needs.
type Endpoints struct {
	Name         string
	VideoURL     string
	SignalingURL string
	SnapshotURL  string
}

// EndpointsTXT describes endpoint paths as advertised in a TXT record.
type EndpointsTXT struct {
	Name          string
	VideoPath     string
	SignalingPath string
	SnapshotPath  string
	TLS           bool
}

// Encode returns the TXT record strings. Empty fields are omitted.
func (t EndpointsTXT) Encode() []string {
	var out []string
	add := func(k, v string) {
		if v != "" {
			out = append(out, k+"="+v)
		}
	}
	add(TXTKeyVideo, t.VideoPath)
	add(TXTKeySignaling, t.SignalingPath)
	add(TXTKeySnapshot, t.SnapshotPath)
	add(TXTKeyName, t.Name)
	if t.TLS {
		add(TXTKeyTLS, "1")
	}
	return out
}

// Validate checks that at least one endpoint is present.
func (t EndpointsTXT) Validate() error {
	if t.VideoPath == "" && t.SignalingPath == "" && t.SnapshotPath == "" {
		return fmt.Errorf("%w: no endpoints", ErrInvalidTXTRecord)
	}
	return nil
}

// ParseEndpointsTXT parses raw TXT records.
func ParseEndpointsTXT(records []string) (*EndpointsTXT, error) {
	m := ParseTXT(records)
	t := &EndpointsTXT{
		Name:          m[TXTKeyName],
		VideoPath:     m[TXTKeyVideo],
		SignalingPath: m[TXTKeySignaling],
		SnapshotPath:  m[TXTKeySnapshot],
	}
	if v, ok := m[TXTKeyTLS]; ok {
		tls, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: tls=%q", ErrInvalidTXTRecord, v)
		}
		t.TLS = tls
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseTXT parses raw TXT record strings into a map. Keys are lower-cased;
// records without '=' are ignored.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[strings.ToLower(record[:idx])] = record[idx+1:]
		}
	}
	return result
}

// Endpoints builds absolute URLs for host:port. Paths that are already
// absolute URLs are kept.
func (t EndpointsTXT) Endpoints(host string, port int) Endpoints {
	hostPort := net.JoinHostPort(host, strconv.Itoa(port))
	wsScheme, httpScheme := "ws", "http"
	if t.TLS {
		wsScheme, httpScheme = "wss", "https"
	}

	build := func(scheme, path string) string {
		if path == "" {
			return ""
		}
		if u, err := url.Parse(path); err == nil && u.IsAbs() {
			return path
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return scheme + "://" + hostPort + path
	}

	return Endpoints{
		Name:         t.Name,
		VideoURL:     build(wsScheme, t.VideoPath),
		SignalingURL: build(wsScheme, t.SignalingPath),
		SnapshotURL:  build(httpScheme, t.SnapshotPath),
	}
}

// SortIPsByPreference orders addresses for building URLs:
//  1. IPv4
//  2. IPv6 global unicast
//  3. IPv6 unique local (fc00::/7)
//  4. everything else, loopback and link-local last
//
// Link-local IPv6 sorts late because mDNS answers carry no zone and such an
// address cannot be dialed from a URL.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

func ipPriority(ip net.IP) int {
	if ip.To16() == nil {
		return 99
	}
	switch {
	case ip.IsLoopback():
		return 80
	case ip.To4() != nil:
		return 0
	case ip.IsLinkLocalUnicast():
		return 70
	case ip.IsMulticast():
		return 90
	case isUniqueLocal(ip):
		return 2
	case ip.IsGlobalUnicast():
		return 1
	default:
		return 10
	}
}

// isUniqueLocal reports whether ip is in fc00::/7.
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	if ip == nil || ip.To4() != nil {
		return false
	}
	return ip[0]&0xfe == 0xfc
}

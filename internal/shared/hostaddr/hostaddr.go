// Package hostaddr parses the user-configured tracker host into the pieces
// the header injector and request builder need.
//
// The configured value is free-form: "tracker.example.com",
// "https://tracker.example.com/", "http://10.0.0.2:8080" are all accepted.
// The port is extracted from the full string before the protocol is
// stripped, so "https://host:8080" resolves to protocol "https", host "host"
// and port 8080.
package hostaddr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultProtocol is used when the configured host carries no scheme.
const DefaultProtocol = "https"

// ErrNoHost is returned when the configured host is empty.
var ErrNoHost = errors.New("no host given")

var (
	matchPort     = regexp.MustCompile(`:\d{2,4}`)
	matchProtocol = regexp.MustCompile(`^([^:]+)://`)
)

// Address is a parsed host. Port is zero when the host did not name one.
type Address struct {
	Protocol string
	Host     string
	Port     int
}

// HasPort reports whether the configured host named an explicit port.
func (a Address) HasPort() bool {
	return a.Port != 0
}

// Origin returns protocol://host[:port].
func (a Address) Origin() string {
	if a.HasPort() {
		return fmt.Sprintf("%s://%s:%d", a.Protocol, a.Host, a.Port)
	}
	return a.Protocol + "://" + a.Host
}

// Filter returns the URL pattern used to scope header injection to this
// host, in the form protocol://host/*.
func (a Address) Filter() string {
	return a.Protocol + "://" + a.Host + "/*"
}

// Parse splits raw into protocol, host and port.
func Parse(raw string) (Address, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return Address{}, ErrNoHost
	}

	var addr Address

	// port first, on the full string
	if loc := matchPort.FindStringIndex(host); loc != nil {
		port, err := strconv.Atoi(host[loc[0]+1 : loc[1]])
		if err != nil {
			return Address{}, fmt.Errorf("invalid port in host %q: %w", raw, err)
		}
		addr.Port = port
		host = host[:loc[0]] + host[loc[1]:]
	}

	if m := matchProtocol.FindStringSubmatch(host); m != nil {
		addr.Protocol = m[1]
		host = strings.TrimSuffix(host[len(m[0]):], "/")
	} else {
		addr.Protocol = DefaultProtocol
	}

	addr.Host = host
	return addr, nil
}

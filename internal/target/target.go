package target

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const defaultHTTPPort = 80

// Parse accepts "host:port", "host" or "http://host[:port][/]" and returns
// the host and port to dial.
func Parse(s string) (string, int, error) {
	if strings.Contains(s, "://") {
		return parseURL(s)
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		if strings.Contains(err.Error(), "missing port") {
			return s, defaultHTTPPort, nil
		}
		return "", 0, err
	}
	port, err := ParsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parseURL(s string) (string, int, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", 0, err
	}
	if u.Scheme != "http" {
		return "", 0, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return "", 0, fmt.Errorf("target must not carry a path: %s", u.Path)
	}
	if u.Hostname() == "" {
		return "", 0, fmt.Errorf("missing host: %s", s)
	}
	if u.Port() == "" {
		return u.Hostname(), defaultHTTPPort, nil
	}
	port, err := ParsePort(u.Port())
	if err != nil {
		return "", 0, err
	}
	return u.Hostname(), port, nil
}

func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port: %q", s)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}

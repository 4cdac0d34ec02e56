// Package validation checks identifiers and addresses taken from
// configuration before they reach URLs, topics or dialers.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	// Target ids appear in API paths and feed topics: alphanumeric, dash,
	// underscore, dot.
	targetIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// One RFC 1123 hostname label.
	hostLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// MaxTargetIDLength bounds target ids.
const MaxTargetIDLength = 64

// ValidateTargetID validates the id of a configured endpoint.
func ValidateTargetID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("empty id")
	}
	if len(id) > MaxTargetIDLength {
		return fmt.Errorf("id too long (max %d characters)", MaxTargetIDLength)
	}
	if !targetIDRegex.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("invalid id %q (must be alphanumeric with -_.)", id)
	}
	return nil
}

// ValidateHost accepts an IP address or a DNS hostname.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("must not be empty")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	name := strings.TrimSuffix(host, ".")
	if len(name) == 0 || len(name) > 253 {
		return fmt.Errorf("invalid host %q", host)
	}
	for _, label := range strings.Split(name, ".") {
		if !hostLabelRegex.MatchString(label) {
			return fmt.Errorf("invalid host %q", host)
		}
	}
	return nil
}

// ValidatePortNumber validates a port number
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return nil
}

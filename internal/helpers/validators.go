package helpers

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	serviceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,62}$`)
	versionRegex     = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]{0,127}$`)
)

// IsValidServiceName reports whether name can be used as a directory, unit and container name.
func IsValidServiceName(name string) bool {
	return serviceNameRegex.MatchString(name)
}

// ValidateVersion checks that a version string is usable as a single path element.
func ValidateVersion(version string) error {
	if !versionRegex.MatchString(version) {
		return fmt.Errorf("invalid version %q; must start with an alphanumeric character and contain only alphanumerics, '.', '_', '+', '-'", version)
	}
	if strings.Contains(version, "..") {
		return fmt.Errorf("invalid version %q; must not contain '..'", version)
	}
	return nil
}

// ValidateHTTPURL checks that raw is an absolute http(s) URL with a host.
func ValidateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

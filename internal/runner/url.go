package runner

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL indicates the audit target cannot be used
var ErrInvalidURL = errors.New("invalid url")

var httpScheme = regexp.MustCompile(`(?i)^https?://`)

// NormalizeURL prefixes http:// when the target has no scheme and checks the
// result is an absolute http(s) URL with a host.
func NormalizeURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	if !httpScheme.MatchString(target) {
		if strings.Contains(target, "://") {
			return "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL, raw)
		}
		target = "http://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}

	return u.String(), nil
}

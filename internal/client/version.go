package client

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// canonical adds the "v" prefix semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// Compatible reports whether a client and a server version share a major
// version. Development builds (invalid semver) are always compatible.
func Compatible(clientVersion, serverVersion string) bool {
	cv, sv := canonical(clientVersion), canonical(serverVersion)
	if !semver.IsValid(cv) || !semver.IsValid(sv) {
		return true
	}
	return semver.Major(cv) == semver.Major(sv)
}

// CheckVersion fetches the server version and fails when its major version
// differs from the client's.
func (c *Client) CheckVersion(ctx context.Context) (string, error) {
	h, err := c.Health(ctx)
	if err != nil {
		return "", err
	}
	if !Compatible(c.version, h.Version) {
		return h.Version, fmt.Errorf("server version %s is incompatible with client version %s", h.Version, c.version)
	}
	return h.Version, nil
}

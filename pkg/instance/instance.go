// Package instance names the running replica for logs and lock ownership.
package instance

import (
	"os"
	"strings"
)

// EnvInstanceID overrides the detected replica name.
const EnvInstanceID = "MARKETPLACE_INSTANCE_ID"

// ID returns MARKETPLACE_INSTANCE_ID, then the Cloud Run revision, then the
// hostname, then fallback.
func ID(fallback string) string {
	for _, candidate := range []string{os.Getenv(EnvInstanceID), os.Getenv("K_REVISION")} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}

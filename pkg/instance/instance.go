package instance

import (
	"os"
	"strings"
)

// ID identifies the running process in logs and lock diagnostics. It prefers
// an explicit LUMENPAY_INSTANCE_ID, then the platform dyno name, then the host.
func ID(kind string) string {
	for _, key := range []string{"LUMENPAY_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	if kind == "" {
		kind = "process"
	}
	return kind + "-0"
}

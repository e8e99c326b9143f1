package instance

import "os"

// ID names this process in logs: WORKER_ID, then DYNO, then the hostname,
// then fallback.
func ID(fallback string) string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}

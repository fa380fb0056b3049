package idgen

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// DeviceID returns the configured device id, else the host machine id, else a new UUID
func DeviceID(existing string) string {
	if existing != "" {
		return existing
	}

	for _, path := range machineIDPaths {
		machineID, err := os.ReadFile(path)
		if err == nil && len(strings.TrimSpace(string(machineID))) > 0 {
			return strings.TrimSpace(string(machineID))
		}
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return "host-" + hostname
	}

	return uuid.New().String()
}

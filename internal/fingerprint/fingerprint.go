// Package fingerprint derives the edge's stable, opaque per-machine
// identifier sent on connect, falling back to a platform/arch/hostname
// triple when no OS-level identifier is available. Serialization
// follows a sorted-keys-then-base64 idiom.
package fingerprint

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"runtime"
	"strings"
)

// machineIDPaths are platform-specific best-effort stable identifier
// sources, checked in order.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// Generate computes the base64-encoded, sorted-key JSON fingerprint
// object for this machine.
func Generate() string {
	fields := map[string]string{
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
	}

	if id, ok := readMachineID(); ok {
		fields["machineId"] = id
	} else if host, err := os.Hostname(); err == nil {
		fields["hostname"] = host
	}

	return encodeSortedBase64(fields)
}

func readMachineID() (string, bool) {
	for _, p := range machineIDPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, true
		}
	}
	return "", false
}

// encodeSortedBase64 marshals fields with sorted keys (Go's encoding/json
// already emits map keys sorted) and base64-encodes the result.
func encodeSortedBase64(fields map[string]string) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

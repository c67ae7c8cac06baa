// Package secrets loads credentials that may be supplied either directly as
// an environment variable or as a file-based secret (e.g. a Docker/Kubernetes
// mounted secret at /run/secrets/...), per spec §4.2's HF_API_TOKEN handling.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Load returns the value of envVar if set, otherwise reads filePath and
// returns its trimmed contents. An empty result with a nil error means no
// credential was configured either way; callers decide whether that's fatal.
func Load(envVar, filePath string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return v, nil
	}
	if filePath == "" {
		return "", nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("secrets: read %s: %w", filePath, err)
	}
	return strings.TrimSpace(string(data)), nil
}

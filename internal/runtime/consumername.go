package runtime

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ConsumerName builds a Redis Streams consumer identity of the form
// <hostname>-<pid>-<random-suffix>, per SPEC_FULL.md §4.1.A, so that two
// processes of the same worker type running on the same host never
// register under the same consumer-group member name and silently share
// (and corrupt) each other's pending-entries list.
func ConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

package core

import (
	"strings"

	"github.com/google/uuid"

	"pkt.systems/webbox/schema"
)

// newRunID names one run or test invocation in logs and sandbox requests.
func newRunID() schema.RunID {
	return schema.RunID("run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

package lifecycle

import (
	"fmt"
	"strings"
)

// ReverifyPolicy decides what happens when a terminal project is asked to
// move to the status it already has.
type ReverifyPolicy string

const (
	// ReverifyNoop returns the stored project unchanged: no history entry and
	// no registry record.
	ReverifyNoop ReverifyPolicy = "noop"
	// ReverifyRecord applies the transition again: a new history entry and,
	// for Verified, a new registry record.
	ReverifyRecord ReverifyPolicy = "record"
)

func ParseReverifyPolicy(s string) (ReverifyPolicy, error) {
	switch ReverifyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReverifyNoop:
		return ReverifyNoop, nil
	case ReverifyRecord:
		return ReverifyRecord, nil
	default:
		return "", fmt.Errorf("unknown reverify policy %q", s)
	}
}

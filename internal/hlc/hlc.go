// Package hlc implements the hybrid logical clock used to order writes
// across nodes without relying on synchronized wall clocks.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is the lexicographically sortable string form
// "<millis:15 digits>:<counter:5 digits>:<nodeId>".
type Timestamp string

// Parsed holds a Timestamp's decoded fields.
type Parsed struct {
	Millis  int64
	Counter int
	NodeID  string
}

// Parse decodes a Timestamp, failing if it does not match the
// "<millis>:<counter>:<nodeId>" shape.
func Parse(ts Timestamp) (Parsed, error) {
	parts := strings.SplitN(string(ts), ":", 3)
	if len(parts) != 3 {
		return Parsed{}, fmt.Errorf("hlc: malformed timestamp %q", ts)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Parsed{}, fmt.Errorf("hlc: bad millis in %q: %w", ts, err)
	}
	counter, err := strconv.Atoi(parts[1])
	if err != nil {
		return Parsed{}, fmt.Errorf("hlc: bad counter in %q: %w", ts, err)
	}
	return Parsed{Millis: millis, Counter: counter, NodeID: parts[2]}, nil
}

func format(millis int64, counter int, nodeID string) Timestamp {
	return Timestamp(fmt.Sprintf("%015d:%05d:%s", millis, counter, nodeID))
}

// Less reports whether a sorts strictly before b under (millis,
// counter, nodeId) comparison. Since the string form pads each field
// to a fixed width, plain string comparison gives the same answer;
// Less is provided for callers that want named semantics instead of
// embedding string ordering knowledge.
func Less(a, b Timestamp) bool { return a < b }

// Clock is a single node's HLC state machine. The zero value is not
// usable; construct with New. Safe for concurrent use.
type Clock struct {
	mu      sync.Mutex
	millis  int64
	counter int
	nodeID  string
	nowFn   func() int64
}

// New constructs a Clock for the given node ID. nodeID should be
// stable for the lifetime of the local database (a GUID works well).
func New(nodeID string) *Clock {
	return &Clock{
		nodeID: nodeID,
		nowFn:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Now advances the clock for a local event and returns its timestamp.
//
//	if physical > state.millis: millis = physical, counter = 0
//	else:                       counter += 1  (millis unchanged)
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.nowFn()
	if physical > c.millis {
		c.millis = physical
		c.counter = 0
	} else {
		c.counter++
	}
	return format(c.millis, c.counter, c.nodeID)
}

// Update merges a received remote timestamp into the clock's state,
// per the standard HLC receive rule, and returns the new local
// timestamp for the receive event itself:
//
//	physical = wall-clock now
//	millis   = max(physical, local.millis, remote.millis)
//	counter  = 0                                   if millis == physical > max(local.millis, remote.millis)
//	         = local.counter + 1                    if millis == local.millis > remote.millis
//	         = remote.counter + 1                   if millis == remote.millis > local.millis
//	         = max(local.counter, remote.counter)+1 if millis == local.millis == remote.millis
func (c *Clock) Update(received Timestamp) (Timestamp, error) {
	remote, err := Parse(received)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.nowFn()
	localMillis, localCounter := c.millis, c.counter

	millis := physical
	if localMillis > millis {
		millis = localMillis
	}
	if remote.Millis > millis {
		millis = remote.Millis
	}

	var counter int
	switch {
	case millis == localMillis && millis == remote.Millis:
		counter = localCounter
		if remote.Counter > counter {
			counter = remote.Counter
		}
		counter++
	case millis == localMillis:
		counter = localCounter + 1
	case millis == remote.Millis:
		counter = remote.Counter + 1
	default:
		counter = 0
	}

	c.millis = millis
	c.counter = counter
	return format(c.millis, c.counter, c.nodeID), nil
}

// NodeID returns the clock's configured node identifier.
func (c *Clock) NodeID() string { return c.nodeID }

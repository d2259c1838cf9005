package internal

import (
	"fmt"
	"sync"
)

// FleetNamer hands out "<PREFIX>-<n>" fleet names, n starting at 1. Each
// provider instance owns its own sequence.
type FleetNamer struct {
	prefix string

	mutex sync.Mutex
	next  int
}

func NewFleetNamer(prefix string) *FleetNamer {
	return &FleetNamer{prefix: prefix, next: 1}
}

// Peek returns the name the next fleet will get without consuming it.
func (n *FleetNamer) Peek() string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return fmt.Sprintf("%s-%d", n.prefix, n.next)
}

// Commit consumes the current name, once a fleet was actually created.
func (n *FleetNamer) Commit() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.next++
}

package database

import (
	"context"
	"sync"
)

// HNSWRebuilder is a person store that keeps an in-memory recognition index.
type HNSWRebuilder interface {
	RebuildHNSW(ctx context.Context) error
	HNSWCount() int
	IsHNSWEnabled() bool
	// SaveHNSWIndex writes the index to its configured path, if any.
	SaveHNSWIndex() error
}

var (
	personIndexMu sync.RWMutex
	personIndex   HNSWRebuilder
)

// RegisterPersonHNSWRebuilder records the process-wide person index so
// shutdown hooks can persist it.
func RegisterPersonHNSWRebuilder(rebuilder HNSWRebuilder) {
	personIndexMu.Lock()
	defer personIndexMu.Unlock()
	personIndex = rebuilder
}

// GetPersonHNSWRebuilder returns the registered index, or nil.
func GetPersonHNSWRebuilder() HNSWRebuilder {
	personIndexMu.RLock()
	defer personIndexMu.RUnlock()
	return personIndex
}

package search

import "github.com/poiesic/strata/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterSemanticSearch(chunkIDs []string)
	AfterQueryEntityExtraction(entities []core.Entity)
	EntityHit(hit *Hit)
	SemanticHit(hit *Hit)
	Finish(hits []*Hit)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                             {}
func (n *noopMonitor) AfterSemanticSearch(_ []string)             {}
func (n *noopMonitor) AfterQueryEntityExtraction(_ []core.Entity) {}
func (n *noopMonitor) EntityHit(_ *Hit)                           {}
func (n *noopMonitor) SemanticHit(_ *Hit)                         {}
func (n *noopMonitor) Finish(_ []*Hit)                            {}

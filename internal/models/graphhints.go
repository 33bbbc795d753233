package models

// GraphHints is the embedder-supplied topology used by the Scorer's graph
// proximity term. It is treated as read-only by the pipeline and may be
// replaced atomically between ticks via Driver.UpdateGraphHints.
type GraphHints struct {
	Adjacency map[string][]string
	Metadata  map[string]map[string]string
}

// Neighbors returns the adjacency list for entity, or nil if absent.
func (g GraphHints) Neighbors(entity string) []string {
	if g.Adjacency == nil {
		return nil
	}
	return g.Adjacency[entity]
}

// Empty reports whether the hint set carries no adjacency information.
func (g GraphHints) Empty() bool {
	return len(g.Adjacency) == 0
}

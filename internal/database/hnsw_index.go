package database

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW index parameters, tuned for 128-dim face descriptors.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier requests extra candidates from the graph so
	// enough survive consent and threshold filtering.
	HNSWSearchMultiplier = 3
)

// DescriptorIndex wraps an HNSW graph over enrolled descriptors for fast
// nearest-candidate search on large rosters. Descriptors of owners whose
// consent lapsed are filtered after the graph search, never inside it.
type DescriptorIndex struct {
	graph      *hnsw.Graph[string]
	savedGraph *hnsw.SavedGraph[string] // restored from disk by Load
	byID       map[string]*StoredDescriptor
	mu         sync.RWMutex
	path       string
}

// NewDescriptorIndex creates an empty index.
func NewDescriptorIndex() *DescriptorIndex {
	return &DescriptorIndex{byID: make(map[string]*StoredDescriptor)}
}

// Build replaces the index contents with the given descriptors.
func (h *DescriptorIndex) Build(descriptors []StoredDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.byID = make(map[string]*StoredDescriptor, len(descriptors))
	h.savedGraph = nil
	if len(descriptors) == 0 {
		h.graph = nil
		return nil
	}

	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance

	for i := range descriptors {
		d := &descriptors[i]
		if len(d.Vector) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(d.ID, d.Vector))
		h.byID[d.ID] = d
	}

	h.graph = g
	return nil
}

// Search returns up to k nearest descriptors to the probe with their
// cosine distances. Descriptors removed since the last Build are
// filtered out via the id map.
func (h *DescriptorIndex) Search(probe []float32, k int) ([]StoredDescriptor, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, nil, errors.New("descriptor index not built")
	}

	var neighbors []hnsw.Node[string]
	if h.savedGraph != nil {
		neighbors = h.savedGraph.Search(probe, k)
	} else {
		neighbors = h.graph.Search(probe, k)
	}

	descriptors := make([]StoredDescriptor, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		d, ok := h.byID[n.Key]
		if !ok {
			continue
		}
		descriptors = append(descriptors, *d)
		distances = append(distances, CosineDistance(probe, n.Value))
	}
	return descriptors, distances, nil
}

// Add inserts a single descriptor into the index.
func (h *DescriptorIndex) Add(d *StoredDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(d.Vector) == 0 {
		return
	}
	if h.savedGraph != nil {
		h.savedGraph.Add(hnsw.MakeNode(d.ID, d.Vector))
		h.byID[d.ID] = d
		return
	}
	if h.graph == nil {
		g := hnsw.NewGraph[string]()
		g.M = HNSWMaxNeighbors
		g.Ml = 1.0 / float64(HNSWMaxNeighbors)
		g.Distance = hnsw.CosineDistance
		h.graph = g
	}
	h.graph.Add(hnsw.MakeNode(d.ID, d.Vector))
	h.byID[d.ID] = d
}

// Remove drops a descriptor from search results. The HNSW graph has no
// true deletion; filtering happens via the id map.
func (h *DescriptorIndex) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byID, id)
}

// Count returns the number of searchable descriptors.
func (h *DescriptorIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// Save persists the graph to the path set at load time. A nil graph
// removes any stale file.
func (h *DescriptorIndex) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil
	}
	if h.graph == nil && h.savedGraph == nil {
		_ = os.Remove(h.path)
		return nil
	}

	f, err := os.Create(h.path)
	if err != nil {
		return fmt.Errorf("create descriptor index file: %w", err)
	}
	defer f.Close()

	if h.savedGraph != nil {
		err = h.savedGraph.Export(f)
	} else {
		err = h.graph.Export(f)
	}
	if err != nil {
		return fmt.Errorf("export descriptor index: %w", err)
	}
	return nil
}

// Load restores a previously saved graph from path and remembers the
// path for Save. A missing file is not an error: the index stays empty
// and the caller rebuilds from the store. RebuildLookup must run
// afterwards so graph hits resolve to descriptors.
func (h *DescriptorIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("load descriptor index: %w", err)
	}
	h.savedGraph = saved
	return nil
}

// Loaded reports whether the index is backed by a persisted graph.
func (h *DescriptorIndex) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.savedGraph != nil
}

// RebuildLookup repopulates the id lookup after Load. Descriptors
// absent from the slice drop out of search results even if the
// persisted graph still carries their nodes.
func (h *DescriptorIndex) RebuildLookup(descriptors []StoredDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.byID = make(map[string]*StoredDescriptor, len(descriptors))
	for i := range descriptors {
		h.byID[descriptors[i].ID] = &descriptors[i]
	}
}

// SetPath sets the persistence path used by Save.
func (h *DescriptorIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

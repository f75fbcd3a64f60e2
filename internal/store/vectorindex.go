package store

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is an in-process approximate nearest-neighbour index over
// ticket embeddings, adapted from the teacher's HNSWStore. Unlike the
// teacher it is never persisted to its own file: modernc.org/sqlite has
// no vector_distance_cos extension, so instead of keeping a second
// on-disk structure in sync with the tickets.embedding column, the
// graph is rebuilt from that column on every Sync (see SPEC_FULL.md §9,
// Open Question 3). For tracker-scale corpora this rebuild is cheap enough
// that persisting a separate index would add sync complexity without a
// measurable benefit.
type VectorIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap  map[string]uint64 // ticket ID -> internal key
	keyMap map[uint64]string // internal key -> ticket ID
	next   uint64
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// VectorMatch is one nearest-neighbour hit.
type VectorMatch struct {
	ID         string
	Similarity float32
}

// NewVectorIndex builds an empty cosine-similarity index for the given
// embedding dimensionality.
func NewVectorIndex(dimensions int) *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

// Rebuild discards the current graph and repopulates it from scratch.
// Called once per Sync with every ticket that carries a non-empty
// embedding, so the index never drifts from the tickets table.
func (v *VectorIndex) Rebuild(ids []string, vectors [][]float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	idMap := make(map[string]uint64, len(ids))
	keyMap := make(map[uint64]string, len(ids))

	var key uint64
	for i, id := range ids {
		vec := vectors[i]
		if len(vec) == 0 {
			continue
		}
		if len(vec) != v.dimensions {
			return ErrDimensionMismatch{Expected: v.dimensions, Got: len(vec)}
		}
		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		normalizeVectorInPlace(normalized)

		graph.Add(hnsw.MakeNode(key, normalized))
		idMap[id] = key
		keyMap[key] = id
		key++
	}

	v.graph = graph
	v.idMap = idMap
	v.keyMap = keyMap
	v.next = key
	return nil
}

// Search returns up to k nearest neighbours of query with cosine
// similarity at or above threshold (a zero threshold keeps every match),
// sorted by descending similarity.
func (v *VectorIndex) Search(query []float32, k int, threshold float32) ([]VectorMatch, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.dimensions {
		return nil, ErrDimensionMismatch{Expected: v.dimensions, Got: len(query)}
	}
	if v.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	nodes := v.graph.Search(normalized, k)
	results := make([]VectorMatch, 0, len(nodes))
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := v.graph.Distance(normalized, node.Value)
		similarity := 1.0 - distance
		if threshold != 0 && similarity < threshold {
			continue
		}
		results = append(results, VectorMatch{ID: id, Similarity: similarity})
	}
	return results, nil
}

// Len returns the number of vectors currently indexed.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(vec []float32) {
	var sumSquares float64
	for _, x := range vec {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= inv
	}
}

package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
)

// Index is an approximate nearest-neighbor engine over fixed-dimension
// vectors keyed by uint64. Implementations are safe for concurrent use.
type Index interface {
	Insert(id uint64, vec []float32) error
	// Search returns up to k matches, most similar first.
	Search(query []float32, k int) ([]Match, error)
	Delete(id uint64) bool
	Len() int
	Dim() int
}

// Match is one ANN hit.
type Match struct {
	ID         uint64
	Similarity float32
}

// HNSWOptions tunes graph construction and search.
type HNSWOptions struct {
	// M is the link budget per node on upper layers; layer 0 allows 2*M.
	M int
	// EfConstruction is the candidate list size while inserting.
	EfConstruction int
	// EfSearch is the candidate list size while searching; raised to k when smaller.
	EfSearch int
	// Seed makes level assignment reproducible. Zero picks a random seed.
	Seed uint64
}

func (o *HNSWOptions) setDefaults() {
	if o.M < 2 {
		o.M = 16
	}
	if o.EfConstruction <= 0 {
		o.EfConstruction = 200
	}
	if o.EfSearch <= 0 {
		o.EfSearch = 50
	}
	if o.Seed == 0 {
		o.Seed = rand.Uint64()
	}
}

type hnswNode struct {
	vec   []float32 // unit length
	level int
	links [][]uint64
}

// HNSW is a hierarchical navigable small world graph using cosine distance.
// Vectors are normalized on insert so distance reduces to 1 - dot product.
type HNSW struct {
	mu       sync.RWMutex
	dim      int
	opts     HNSWOptions
	nodes    map[uint64]*hnswNode
	entry    uint64
	hasEntry bool
	maxLevel int
	levelMul float64
	rng      *rand.Rand
}

var _ Index = (*HNSW)(nil)

// NewHNSW creates an empty graph for vectors of length dim.
func NewHNSW(dim int, opts HNSWOptions) (*HNSW, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hnsw: dimension must be positive, got %d", dim)
	}
	opts.setDefaults()
	return &HNSW{
		dim:      dim,
		opts:     opts,
		nodes:    make(map[uint64]*hnswNode),
		levelMul: 1 / math.Log(float64(opts.M)),
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed>>1|1)),
	}, nil
}

// Dim returns the vector dimension.
func (h *HNSW) Dim() int { return h.dim }

// Len returns the number of stored vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Insert adds vec under id, replacing any previous vector with that id.
func (h *HNSW) Insert(id uint64, vec []float32) error {
	if len(vec) != h.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), h.dim)
	}
	unit, err := Normalize(vec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.nodes[id]; ok {
		h.remove(id)
	}

	level := h.randomLevel()
	node := &hnswNode{vec: unit, level: level, links: make([][]uint64, level+1)}
	h.nodes[id] = node

	if !h.hasEntry {
		h.entry, h.hasEntry, h.maxLevel = id, true, level
		return nil
	}

	ep := h.descend(unit, h.entry, h.maxLevel, level)
	entries := []uint64{ep}
	for l := min(level, h.maxLevel); l >= 0; l-- {
		found := h.searchLayer(unit, entries, h.opts.EfConstruction, l)
		limit := h.maxLinks(l)
		neighbors := make([]uint64, 0, min(limit, len(found)))
		for _, c := range found {
			if len(neighbors) == limit {
				break
			}
			neighbors = append(neighbors, c.id)
		}
		node.links[l] = neighbors
		for _, nb := range neighbors {
			h.link(nb, id, l)
		}
		entries = candidateIDs(found)
	}

	if level > h.maxLevel {
		h.entry, h.maxLevel = id, level
	}
	return nil
}

// Search returns up to k nearest vectors to query.
func (h *HNSW) Search(query []float32, k int) ([]Match, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), h.dim)
	}
	unit, err := Normalize(query)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry || k <= 0 {
		return nil, nil
	}

	ep := h.descend(unit, h.entry, h.maxLevel, 0)
	found := h.searchLayer(unit, []uint64{ep}, max(h.opts.EfSearch, k), 0)
	if len(found) > k {
		found = found[:k]
	}
	out := make([]Match, len(found))
	for i, c := range found {
		out[i] = Match{ID: c.id, Similarity: 1 - c.dist}
	}
	return out, nil
}

// Delete removes id and reports whether it was present.
func (h *HNSW) Delete(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.nodes[id]; !ok {
		return false
	}
	h.remove(id)
	return true
}

func (h *HNSW) maxLinks(layer int) int {
	if layer == 0 {
		return 2 * h.opts.M
	}
	return h.opts.M
}

func (h *HNSW) randomLevel() int {
	r := max(h.rng.Float64(), math.SmallestNonzeroFloat64)
	return min(int(-math.Log(r)*h.levelMul), 31)
}

func (h *HNSW) distance(q []float32, id uint64) float32 {
	v := h.nodes[id].vec
	var dot float32
	for i := range q {
		dot += q[i] * v[i]
	}
	return 1 - dot
}

// descend walks greedily from ep on layers top..bottom+1 and returns the
// closest node found.
func (h *HNSW) descend(q []float32, ep uint64, top, bottom int) uint64 {
	best := h.distance(q, ep)
	for l := top; l > bottom; l-- {
		for improved := true; improved; {
			improved = false
			node := h.nodes[ep]
			if l >= len(node.links) {
				break
			}
			for _, nb := range node.links[l] {
				if _, ok := h.nodes[nb]; !ok {
					continue
				}
				if d := h.distance(q, nb); d < best {
					ep, best, improved = nb, d, true
				}
			}
		}
	}
	return ep
}

// searchLayer is the beam search of the HNSW paper. The result is sorted by
// ascending distance and holds at most ef candidates.
func (h *HNSW) searchLayer(q []float32, entries []uint64, ef, layer int) []candidate {
	visited := make(map[uint64]struct{}, ef*4)
	frontier := &candidateHeap{}
	best := &candidateHeap{farthestFirst: true}

	for _, id := range entries {
		if _, ok := h.nodes[id]; !ok {
			continue
		}
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		c := candidate{id: id, dist: h.distance(q, id)}
		heap.Push(frontier, c)
		heap.Push(best, c)
	}
	for best.Len() > ef {
		heap.Pop(best)
	}

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(candidate)
		if best.Len() >= ef && cur.dist > best.peek().dist {
			break
		}
		node := h.nodes[cur.id]
		if layer >= len(node.links) {
			continue
		}
		for _, nb := range node.links[layer] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			if _, ok := h.nodes[nb]; !ok {
				continue
			}
			d := h.distance(q, nb)
			if best.Len() < ef || d < best.peek().dist {
				c := candidate{id: nb, dist: d}
				heap.Push(frontier, c)
				heap.Push(best, c)
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	out := slices.Clone(best.items)
	slices.SortFunc(out, func(a, b candidate) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})
	return out
}

// link adds a directed edge from -> to on layer, pruning from's links to
// the closest maxLinks when over budget.
func (h *HNSW) link(from, to uint64, layer int) {
	node := h.nodes[from]
	if layer >= len(node.links) || slices.Contains(node.links[layer], to) {
		return
	}
	node.links[layer] = append(node.links[layer], to)
	limit := h.maxLinks(layer)
	if len(node.links[layer]) <= limit {
		return
	}
	node.links[layer] = h.live(node.links[layer])
	if len(node.links[layer]) <= limit {
		return
	}
	ranked := make([]candidate, len(node.links[layer]))
	for i, id := range node.links[layer] {
		ranked[i] = candidate{id: id, dist: h.distance(node.vec, id)}
	}
	slices.SortFunc(ranked, func(a, b candidate) int {
		if a.dist < b.dist {
			return -1
		}
		if a.dist > b.dist {
			return 1
		}
		return 0
	})
	node.links[layer] = candidateIDs(ranked[:limit])
}

// remove unlinks id from its own neighbors and patches each of them with
// the removed node's other neighbors while they have spare link budget.
// Nodes holding a one-way link to id keep a dangling entry; traversal skips
// it and link drops it once the list overflows.
func (h *HNSW) remove(id uint64) {
	node := h.nodes[id]
	delete(h.nodes, id)

	for l, neighbors := range node.links {
		for _, nb := range neighbors {
			nn, ok := h.nodes[nb]
			if !ok || l >= len(nn.links) {
				continue
			}
			nn.links[l] = slices.DeleteFunc(nn.links[l], func(x uint64) bool { return x == id })
			for _, other := range neighbors {
				if other == nb || len(nn.links[l]) >= h.maxLinks(l) {
					continue
				}
				if on, ok := h.nodes[other]; ok && l < len(on.links) {
					h.link(nb, other, l)
				}
			}
		}
	}

	if h.entry == id {
		h.electEntry(node)
	}
}

// electEntry replaces a removed entry point with its highest-level live
// neighbor, scanning every node only when none is left.
func (h *HNSW) electEntry(old *hnswNode) {
	h.hasEntry, h.maxLevel = false, 0
	for l := len(old.links) - 1; l >= 0 && !h.hasEntry; l-- {
		for _, nb := range old.links[l] {
			if n, ok := h.nodes[nb]; ok && (!h.hasEntry || n.level > h.maxLevel) {
				h.entry, h.hasEntry, h.maxLevel = nb, true, n.level
			}
		}
	}
	if h.hasEntry {
		return
	}
	for nid, n := range h.nodes {
		if !h.hasEntry || n.level > h.maxLevel {
			h.entry, h.hasEntry, h.maxLevel = nid, true, n.level
		}
	}
}

func (h *HNSW) live(ids []uint64) []uint64 {
	return slices.DeleteFunc(ids, func(x uint64) bool {
		_, ok := h.nodes[x]
		return !ok
	})
}

type candidate struct {
	id   uint64
	dist float32
}

func candidateIDs(cs []candidate) []uint64 {
	ids := make([]uint64, len(cs))
	for i, c := range cs {
		ids[i] = c.id
	}
	return ids
}

// candidateHeap is a min-heap on distance, or a max-heap when farthestFirst.
type candidateHeap struct {
	items         []candidate
	farthestFirst bool
}

func (h *candidateHeap) Len() int { return len(h.items) }
func (h *candidateHeap) Less(i, j int) bool {
	if h.farthestFirst {
		return h.items[i].dist > h.items[j].dist
	}
	return h.items[i].dist < h.items[j].dist
}
func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candidateHeap) Push(x any)    { h.items = append(h.items, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	n := len(h.items) - 1
	c := h.items[n]
	h.items = h.items[:n]
	return c
}
func (h *candidateHeap) peek() candidate { return h.items[0] }

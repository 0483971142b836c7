package vector

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"
)

func randomVectors(n, dim int, seed uint64) [][]float32 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func bruteForce(vecs [][]float32, q []float32, k int) []uint64 {
	type scored struct {
		id  uint64
		sim float32
	}
	all := make([]scored, len(vecs))
	for i, v := range vecs {
		all[i] = scored{uint64(i), CosineSimilarity(q, v)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	ids := make([]uint64, k)
	for i := range ids {
		ids[i] = all[i].id
	}
	return ids
}

func TestHNSW_Recall(t *testing.T) {
	const n, dim, k = 2000, 32, 10
	vecs := randomVectors(n, dim, 7)
	h, err := NewHNSW(dim, HNSWOptions{Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		if err := h.Insert(uint64(i), v); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if h.Len() != n {
		t.Fatalf("Len() = %d, want %d", h.Len(), n)
	}

	queries := randomVectors(50, dim, 99)
	var hit, total int
	for _, q := range queries {
		want := bruteForce(vecs, q, k)
		got, err := h.Search(q, k)
		if err != nil {
			t.Fatal(err)
		}
		found := make(map[uint64]bool, len(got))
		for _, m := range got {
			found[m.ID] = true
		}
		for _, id := range want {
			if found[id] {
				hit++
			}
			total++
		}
	}
	if recall := float64(hit) / float64(total); recall < 0.9 {
		t.Errorf("recall@%d = %.2f, want >= 0.90", k, recall)
	}
}

func TestHNSW_SearchOrderAndSelfMatch(t *testing.T) {
	vecs := randomVectors(300, 16, 3)
	h, _ := NewHNSW(16, HNSWOptions{Seed: 1})
	for i, v := range vecs {
		_ = h.Insert(uint64(i), v)
	}
	got, err := h.Search(vecs[17], 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[0].ID != 17 {
		t.Fatalf("Search(self) = %+v, want id 17 first", got)
	}
	if got[0].Similarity < 0.9999 {
		t.Errorf("self similarity = %v", got[0].Similarity)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Similarity > got[i-1].Similarity {
			t.Errorf("results not sorted at %d: %+v", i, got)
		}
	}
}

func TestHNSW_DeleteAndReplace(t *testing.T) {
	vecs := randomVectors(200, 8, 11)
	h, _ := NewHNSW(8, HNSWOptions{Seed: 5})
	for i, v := range vecs {
		_ = h.Insert(uint64(i), v)
	}

	for i := 0; i < 100; i++ {
		if !h.Delete(uint64(i)) {
			t.Fatalf("Delete(%d) = false", i)
		}
	}
	if h.Delete(3) {
		t.Error("second Delete should report false")
	}
	if h.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", h.Len())
	}
	got, _ := h.Search(vecs[150], 3)
	if len(got) == 0 || got[0].ID != 150 {
		t.Errorf("after deletes Search = %+v, want 150 first", got)
	}
	for _, m := range got {
		if m.ID < 100 {
			t.Errorf("deleted id %d returned", m.ID)
		}
	}

	// Replacing moves the id to the new vector.
	if err := h.Insert(150, vecs[160]); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 100 {
		t.Errorf("Len() after replace = %d", h.Len())
	}
	got, _ = h.Search(vecs[160], 2)
	ids := map[uint64]bool{got[0].ID: true, got[1].ID: true}
	if !ids[150] || !ids[160] {
		t.Errorf("Search after replace = %+v", got)
	}
}

func TestHNSW_RecallAfterDeletes(t *testing.T) {
	const n, dim, k = 2000, 32, 10
	vecs := randomVectors(n, dim, 21)
	h, _ := NewHNSW(dim, HNSWOptions{Seed: 9})
	for i, v := range vecs {
		_ = h.Insert(uint64(i), v)
	}

	deleted := make(map[uint64]bool, n/2)
	for len(deleted) < n/2 {
		// Alternate between the entry point and the lowest live id so
		// entry election runs many times.
		id := h.entry
		if len(deleted)%2 == 1 {
			for id = 0; deleted[id] || id == h.entry; id++ {
			}
		}
		if !h.Delete(id) {
			t.Fatalf("Delete(%d) = false", id)
		}
		deleted[id] = true
		if _, ok := h.nodes[h.entry]; !ok {
			t.Fatalf("entry %d is not a live node after deleting %d", h.entry, id)
		}
	}

	live := make([][]float32, 0, n/2)
	liveIDs := make([]uint64, 0, n/2)
	for i, v := range vecs {
		if !deleted[uint64(i)] {
			live = append(live, v)
			liveIDs = append(liveIDs, uint64(i))
		}
	}
	queries := randomVectors(30, dim, 77)
	var hit, total int
	for _, q := range queries {
		got, err := h.Search(q, k)
		if err != nil {
			t.Fatal(err)
		}
		found := make(map[uint64]bool, len(got))
		for _, m := range got {
			if deleted[m.ID] {
				t.Fatalf("deleted id %d returned", m.ID)
			}
			found[m.ID] = true
		}
		for _, idx := range bruteForce(live, q, k) {
			if found[liveIDs[idx]] {
				hit++
			}
			total++
		}
	}
	if recall := float64(hit) / float64(total); recall < 0.8 {
		t.Errorf("recall@%d after deletes = %.2f, want >= 0.80", k, recall)
	}
}

func TestHNSW_Errors(t *testing.T) {
	if _, err := NewHNSW(0, HNSWOptions{}); err == nil {
		t.Error("NewHNSW(0) should fail")
	}
	h, _ := NewHNSW(3, HNSWOptions{})
	if err := h.Insert(1, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Insert wrong dim error = %v", err)
	}
	if err := h.Insert(1, []float32{0, 0, 0}); !errors.Is(err, ErrZeroVector) {
		t.Errorf("Insert zero error = %v", err)
	}
	if _, err := h.Search([]float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search wrong dim error = %v", err)
	}
	got, err := h.Search([]float32{1, 0, 0}, 3)
	if err != nil || got != nil {
		t.Errorf("Search on empty = %v, %v", got, err)
	}
}

package vector

import (
	"slices"
	"sync"
	"time"
)

// catalog tracks documents and their chunk ids. It is shared by the
// backends; callers hold their own lock around it.
type catalog struct {
	docs map[string]*catalogEntry
}

type catalogEntry struct {
	doc    Document
	chunks map[string]struct{}
	seq    uint64
}

func newCatalog() *catalog {
	return &catalog{docs: make(map[string]*catalogEntry)}
}

// add registers chunk under its document, creating the entry at uploadedAt.
func (c *catalog) add(chunk Chunk, uploadedAt time.Time, seq uint64) {
	e, ok := c.docs[chunk.DocumentID]
	if !ok {
		e = &catalogEntry{
			doc:    Document{ID: chunk.DocumentID, UploadedAt: uploadedAt},
			chunks: make(map[string]struct{}),
			seq:    seq,
		}
		c.docs[chunk.DocumentID] = e
	}
	if chunk.Filename != "" {
		e.doc.Filename = chunk.Filename
	}
	if chunk.ContentType != "" {
		e.doc.ContentType = chunk.ContentType
	}
	if chunk.Size > 0 {
		e.doc.Size = chunk.Size
	}
	e.chunks[chunk.ID] = struct{}{}
	e.doc.Chunks = len(e.chunks)
}

// remove drops a chunk and deletes the document once it has none left.
func (c *catalog) remove(documentID, chunkID string) {
	e, ok := c.docs[documentID]
	if !ok {
		return
	}
	delete(e.chunks, chunkID)
	e.doc.Chunks = len(e.chunks)
	if len(e.chunks) == 0 {
		delete(c.docs, documentID)
	}
}

func (c *catalog) uploadedAt(documentID string) (time.Time, bool) {
	if e, ok := c.docs[documentID]; ok {
		return e.doc.UploadedAt, true
	}
	return time.Time{}, false
}

func (c *catalog) chunkIDs(documentID string) []string {
	e, ok := c.docs[documentID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.chunks))
	for id := range e.chunks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// stale returns the chunk ids of documentID that are not in keep.
func (c *catalog) stale(documentID string, keep []string) []string {
	var out []string
	for _, id := range c.chunkIDs(documentID) {
		if !slices.Contains(keep, id) {
			out = append(out, id)
		}
	}
	return out
}

// list returns documents newest first, capped at limit when positive.
func (c *catalog) list(limit int) []Document {
	entries := make([]*catalogEntry, 0, len(c.docs))
	for _, e := range c.docs {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *catalogEntry) int {
		if n := b.doc.UploadedAt.Compare(a.doc.UploadedAt); n != 0 {
			return n
		}
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Document, len(entries))
	for i, e := range entries {
		out[i] = e.doc
	}
	return out
}

// rankedResult carries the recency used to break similarity ties.
type rankedResult struct {
	Result
	seq uint64
}

// rank filters by threshold, orders by similarity then recency and caps at k.
func rank(in []rankedResult, k int, threshold float32) []Result {
	kept := in[:0]
	for _, r := range in {
		if r.Similarity >= threshold {
			kept = append(kept, r)
		}
	}
	slices.SortStableFunc(kept, func(a, b rankedResult) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	if len(kept) > k {
		kept = kept[:k]
	}
	out := make([]Result, len(kept))
	for i, r := range kept {
		out[i] = r.Result
	}
	return out
}

// sequence hands out strictly increasing recency stamps. Stamps derive
// from the wall clock so they stay ordered across restarts of persistent
// backends.
type sequence struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

func (s *sequence) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint64(s.now().UnixNano())
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return n
}

func (s *sequence) observe(seq uint64) {
	s.mu.Lock()
	if seq > s.last {
		s.last = seq
	}
	s.mu.Unlock()
}

// restore re-creates an entry from persisted catalog data.
func (c *catalog) restore(doc Document, chunkIDs []string, seq uint64) {
	e := &catalogEntry{doc: doc, chunks: make(map[string]struct{}, len(chunkIDs)), seq: seq}
	for _, id := range chunkIDs {
		e.chunks[id] = struct{}{}
	}
	e.doc.Chunks = len(e.chunks)
	c.docs[doc.ID] = e
}

func (c *catalog) entry(documentID string) (*catalogEntry, bool) {
	e, ok := c.docs[documentID]
	return e, ok
}

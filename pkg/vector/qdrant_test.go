package vector

import (
	"testing"
	"time"
)

func TestQdrantPayloadRoundTrip(t *testing.T) {
	c := chunk("doc", 2)
	c.Metadata = map[string]any{"tokens": 40}

	payload, err := chunkPayload(c, 77)
	if err != nil {
		t.Fatal(err)
	}
	got, seq := chunkFromPayload(payload)
	if seq != 77 {
		t.Errorf("seq = %d", seq)
	}
	if got.ID != c.ID || got.DocumentID != "doc" || got.Index != 2 || got.Size != 1024 {
		t.Errorf("chunk = %+v", got)
	}
	if got.Metadata["tokens"] != "40" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	doc := Document{ID: "doc", Filename: "doc.txt", Size: 9, UploadedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	dp, err := documentPayload(doc, []string{"doc_chunk_0", "doc_chunk_1"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	gotDoc, ids, dseq := documentFromPayload(dp)
	if gotDoc.ID != "doc" || !gotDoc.UploadedAt.Equal(doc.UploadedAt) || dseq != 5 || len(ids) != 2 {
		t.Errorf("document = %+v ids=%v seq=%d", gotDoc, ids, dseq)
	}
}

func TestPointIDIsStable(t *testing.T) {
	a, b := pointID("doc_chunk_0"), pointID("doc_chunk_0")
	if a != b {
		t.Errorf("pointID not deterministic: %s vs %s", a, b)
	}
	if a == pointID("doc_chunk_1") {
		t.Error("distinct chunks share a point id")
	}
}

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type memoryThread struct {
	messages  []Message
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore keeps threads in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memoryThread
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*memoryThread),
		now:     time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("load", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return []Message{}, nil
	}
	return cloneMessages(t.messages), nil
}

func (s *MemoryStore) Get(ctx context.Context, threadID string) (*Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return &Thread{
		ID:           threadID,
		Messages:     cloneMessages(t.messages),
		MessageCount: len(t.messages),
		CreatedAt:    t.createdAt,
		UpdatedAt:    t.updatedAt,
	}, nil
}

func (s *MemoryStore) Append(ctx context.Context, threadID string, msgs ...Message) error {
	msgs, err := prepare(threadID, msgs)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return persistErr("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	t, ok := s.threads[threadID]
	if !ok {
		t = &memoryThread{createdAt: now}
		s.threads[threadID] = t
	}
	for _, m := range msgs {
		m.Sequence = len(t.messages)
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.Metadata = maps.Clone(m.Metadata)
		t.messages = append(t.messages, m)
	}
	t.updatedAt = now
	return nil
}

func (s *MemoryStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("list threads", err)
	}
	s.mu.RLock()
	out := make([]ThreadSummary, 0, len(s.threads))
	for id, t := range s.threads {
		out = append(out, ThreadSummary{
			ID:           id,
			MessageCount: len(t.messages),
			CreatedAt:    t.createdAt,
			UpdatedAt:    t.updatedAt,
		})
	}
	s.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return persistErr("delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, threadID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.Metadata = maps.Clone(m.Metadata)
		out[i] = m
	}
	return out
}

// sortSummaries orders by UpdatedAt descending, then id.
func sortSummaries(s []ThreadSummary) {
	slices.SortFunc(s, func(a, b ThreadSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

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

// Package session persists conversation threads.
//
// A thread is an ordered, append-only list of user and assistant messages.
// Stores serialize appends per thread id; message order within a thread is
// dense and starts at zero.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPersistence wraps every storage failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrThreadNotFound is returned for operations on unknown thread ids.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrInvalidMessage is returned for messages with an unknown role.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored conversation entry.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Sequence  int            `json:"sequence"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Thread is a conversation with its messages.
type Thread struct {
	ID           string    `json:"thread_id"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ThreadSummary is a thread listing entry.
type ThreadSummary struct {
	ID           string    `json:"thread_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the Conversation Store contract.
type Store interface {
	// Load returns the messages of a thread in order. Unknown threads yield
	// an empty slice.
	Load(ctx context.Context, threadID string) ([]Message, error)

	// Get returns a thread with its messages or ErrThreadNotFound.
	Get(ctx context.Context, threadID string) (*Thread, error)

	// Append stores msgs at the end of the thread, creating it if needed.
	// All messages are stored or none are.
	Append(ctx context.Context, threadID string, msgs ...Message) error

	// ListThreads returns all threads, most recently updated first.
	ListThreads(ctx context.Context) ([]ThreadSummary, error)

	// Delete removes a thread and its messages.
	Delete(ctx context.Context, threadID string) error

	Close() error
}

// NormalizeRole maps role aliases onto the stored roles.
func NormalizeRole(role string) string {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case "human":
		return RoleUser
	case "ai":
		return RoleAssistant
	default:
		return r
	}
}

// NewThreadID returns a fresh id of the form thread_<16 hex chars>.
func NewThreadID() string {
	return "thread_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// prepare normalizes roles and rejects anything that is not a user or
// assistant message. The input slice is not modified.
func prepare(threadID string, msgs []Message) ([]Message, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", ErrInvalidMessage)
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.Role = NormalizeRole(m.Role)
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return nil, fmt.Errorf("%w: message %d has role %q", ErrInvalidMessage, i, m.Role)
		}
		out[i] = m
	}
	return out, nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

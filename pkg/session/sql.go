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
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/reagent/pkg/config"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS conversation_threads (
    thread_id VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    thread_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT,
    message_order INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (thread_id, message_order)
)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_threads_updated ON conversation_threads(updated_at)`,
}

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS conversation_threads (
    thread_id VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id SERIAL PRIMARY KEY,
    thread_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT,
    message_order INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (thread_id, message_order)
)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_threads_updated ON conversation_threads(updated_at)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes live in the table definitions.
var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS conversation_threads (
    thread_id VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP(6) NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL,
    INDEX idx_conversation_threads_updated (updated_at)
)`, `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    thread_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content LONGTEXT NOT NULL,
    metadata LONGTEXT,
    message_order INTEGER NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    UNIQUE KEY uq_conversation_messages_order (thread_id, message_order)
)`,
}

// SQLStore persists threads in sqlite, postgres or mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
	locks   *keyedMutex
	now     func() time.Time
	log     *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database and creates the schema if missing.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	var schema []string
	switch dialect {
	case DialectSQLite:
		schema = sqliteSchema
	case DialectPostgres:
		schema = postgresSchema
	case DialectMySQL:
		schema = mysqlSchema
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		locks:   newKeyedMutex(),
		now:     time.Now,
		log:     slog.With("component", "session", "dialect", dialect),
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, persistErr("create schema", err)
		}
	}
	return s, nil
}

// OpenSQL opens and pings the database described by cfg.
func OpenSQL(ctx context.Context, cfg *config.SessionConfig) (*SQLStore, error) {
	driverName := cfg.Driver
	dsn := cfg.DSN
	switch cfg.Driver {
	case DialectSQLite:
		driverName = "sqlite3"
	case DialectMySQL:
		dsn = withMySQLParseTime(dsn)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, persistErr("open database", err)
	}
	if cfg.Driver == DialectSQLite {
		// One connection keeps ":memory:" databases shared and avoids SQLITE_BUSY on writes.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, persistErr(fmt.Sprintf("connect to %s database", cfg.Driver), err)
	}

	s, err := NewSQLStore(ctx, db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func withMySQLParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// rebind rewrites ? placeholders for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT role, content, metadata, message_order, created_at
FROM conversation_messages
WHERE thread_id = ?
ORDER BY message_order ASC`), threadID)
	if err != nil {
		return nil, persistErr("load messages", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m    Message
			meta sql.NullString
		)
		if err := rows.Scan(&m.Role, &m.Content, &meta, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, persistErr("scan message", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, persistErr("decode message metadata", err)
			}
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate messages", err)
	}
	return msgs, nil
}

func (s *SQLStore) Get(ctx context.Context, threadID string) (*Thread, error) {
	t := &Thread{ID: threadID}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT created_at, updated_at FROM conversation_threads WHERE thread_id = ?`), threadID).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, persistErr("get thread", err)
	}
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()

	if t.Messages, err = s.Load(ctx, threadID); err != nil {
		return nil, err
	}
	t.MessageCount = len(t.Messages)
	return t, nil
}

func (s *SQLStore) Append(ctx context.Context, threadID string, msgs ...Message) (err error) {
	msgs, err = prepare(threadID, msgs)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	unlock := s.locks.Lock(threadID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM conversation_threads WHERE thread_id = ?`), threadID).Scan(&exists)
	if err != nil {
		return persistErr("check thread", err)
	}
	if exists == 0 {
		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO conversation_threads (thread_id, created_at, updated_at) VALUES (?, ?, ?)`),
			threadID, now, now)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE conversation_threads SET updated_at = ? WHERE thread_id = ?`), now, threadID)
	}
	if err != nil {
		return persistErr("upsert thread", err)
	}

	var next int
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT COALESCE(MAX(message_order) + 1, 0) FROM conversation_messages WHERE thread_id = ?`),
		threadID).Scan(&next)
	if err != nil {
		return persistErr("next message order", err)
	}

	insert := s.rebind(`
INSERT INTO conversation_messages (thread_id, role, content, metadata, message_order, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	for i, m := range msgs {
		var meta sql.NullString
		if len(m.Metadata) > 0 {
			raw, mErr := json.Marshal(m.Metadata)
			if mErr != nil {
				err = persistErr(fmt.Sprintf("encode metadata of message %d", i), mErr)
				return err
			}
			meta = sql.NullString{String: string(raw), Valid: true}
		}
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err = tx.ExecContext(ctx, insert, threadID, m.Role, m.Content, meta, next+i, created.UTC()); err != nil {
			return persistErr(fmt.Sprintf("insert message %d", i), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	s.log.Debug("Appended messages", "thread_id", threadID, "count", len(msgs), "first_order", next)
	return nil
}

func (s *SQLStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.thread_id, t.created_at, t.updated_at,
       (SELECT COUNT(*) FROM conversation_messages m WHERE m.thread_id = t.thread_id)
FROM conversation_threads t
ORDER BY t.updated_at DESC, t.thread_id ASC`)
	if err != nil {
		return nil, persistErr("list threads", err)
	}
	defer rows.Close()

	out := []ThreadSummary{}
	for rows.Next() {
		var t ThreadSummary
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.MessageCount); err != nil {
			return nil, persistErr("scan thread", err)
		}
		t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate threads", err)
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, threadID string) (err error) {
	unlock := s.locks.Lock(threadID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.rebind(
		`DELETE FROM conversation_messages WHERE thread_id = ?`), threadID); err != nil {
		return persistErr("delete messages", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM conversation_threads WHERE thread_id = ?`), threadID)
	if err != nil {
		return persistErr("delete thread", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete thread", err)
	}
	if n == 0 {
		err = ErrThreadNotFound
		return err
	}
	if err = tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	s.log.Info("Deleted thread", "thread_id", threadID)
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

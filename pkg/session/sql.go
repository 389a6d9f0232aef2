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
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/agenthub/pkg/config"
)

const (
	createTurnsTableSQLite = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    tenant_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id ON conversation_turns(session_id);
CREATE INDEX IF NOT EXISTS idx_turns_sequence ON conversation_turns(session_id, sequence_num);
`

	createTurnsTablePostgres = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id SERIAL PRIMARY KEY,
    turn_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    tenant_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id ON conversation_turns(session_id);
CREATE INDEX IF NOT EXISTS idx_turns_sequence ON conversation_turns(session_id, sequence_num);
`

	createTurnsTableMySQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    turn_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    tenant_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    INDEX idx_turns_session_id (session_id),
    INDEX idx_turns_sequence (session_id, sequence_num)
);
`
)

// SQLStore persists turns in a relational database. Supported dialects
// are sqlite, postgres, and mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database connection.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromConfig opens the configured database and wraps it.
func NewSQLStoreFromConfig(cfg config.SessionConfig) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("session dsn is required")
	}

	driverName := cfg.Dialect
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Dialect, err)
	}

	return NewSQLStore(db, cfg.Dialect)
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createTurnsTableSQLite
	switch s.dialect {
	case "postgres":
		schema = createTurnsTablePostgres
	case "mysql":
		schema = createTurnsTableMySQL
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create conversation_turns table: %w", err)
	}
	return nil
}

// Append implements Store. All turns are written in one transaction so
// a user/assistant pair is never half persisted.
func (s *SQLStore) Append(ctx context.Context, turns ...Turn) (err error) {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	countQuery := `SELECT COALESCE(MAX(sequence_num), 0) FROM conversation_turns WHERE session_id = ?`
	if s.dialect == "postgres" {
		countQuery = `SELECT COALESCE(MAX(sequence_num), 0) FROM conversation_turns WHERE session_id = $1`
	}

	var startSeq int64
	if err = tx.QueryRowContext(ctx, countQuery, turns[0].SessionID).Scan(&startSeq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	insertQuery := `
INSERT INTO conversation_turns (turn_id, session_id, tenant_id, role, content, sequence_num, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	if s.dialect == "postgres" {
		insertQuery = `
INSERT INTO conversation_turns (turn_id, session_id, tenant_id, role, content, sequence_num, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	}

	for i, turn := range turns {
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err = tx.ExecContext(ctx, insertQuery,
			turn.ID, turn.SessionID, turn.TenantID, turn.Role, turn.Content,
			startSeq+int64(i)+1, createdAt,
		); err != nil {
			return fmt.Errorf("failed to insert turn at index %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Window implements Store. The subquery selects the newest rows, the
// outer query restores chronological order.
func (s *SQLStore) Window(ctx context.Context, sessionID string, size int) ([]Turn, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if size <= 0 {
		size = DefaultWindowSize
	}

	query := `
SELECT turn_id, session_id, tenant_id, role, content, created_at FROM (
    SELECT turn_id, session_id, tenant_id, role, content, created_at, sequence_num
    FROM conversation_turns
    WHERE session_id = ? AND role != 'system'
    ORDER BY sequence_num DESC
    LIMIT ?
) sub ORDER BY sequence_num ASC
`
	if s.dialect == "postgres" {
		query = `
SELECT turn_id, session_id, tenant_id, role, content, created_at FROM (
    SELECT turn_id, session_id, tenant_id, role, content, created_at, sequence_num
    FROM conversation_turns
    WHERE session_id = $1 AND role != 'system'
    ORDER BY sequence_num DESC
    LIMIT $2
) sub ORDER BY sequence_num ASC
`
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, size)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.TenantID, &turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)

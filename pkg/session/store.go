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

// Package session loads and persists conversation turns. The pipeline
// reads a bounded recent-turn window for prompt assembly and writes the
// new user/assistant pair only after reaching a terminal state. The
// window is a fixed turn count, not adaptive; long conversations lose
// older context and no summarization is attempted.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/llms"
)

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultWindowSize is the fixed number of recent turns supplied to
// prompt assembly when the configuration does not set one.
const DefaultWindowSize = 20

// Turn is one conversation message.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn with a fresh id and timestamp.
func NewTurn(sessionID, tenantID, role, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TenantID:  tenantID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Store persists conversation turns.
type Store interface {
	// Append writes the given turns atomically: either all are
	// persisted or none.
	Append(ctx context.Context, turns ...Turn) error

	// Window returns the most recent turns for the session in
	// chronological order, excluding system rows, bounded by size.
	Window(ctx context.Context, sessionID string, size int) ([]Turn, error)

	Close() error
}

// NewStoreFromConfig creates the configured store backend.
func NewStoreFromConfig(cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sql":
		return NewSQLStoreFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// AsMessages converts a turn window into the role-tagged sequence used
// for prompt assembly.
func AsMessages(turns []Turn) []llms.Message {
	messages := make([]llms.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, llms.User(turn.Content))
		case RoleAssistant:
			messages = append(messages, llms.Assistant(turn.Content))
		}
	}
	return messages
}

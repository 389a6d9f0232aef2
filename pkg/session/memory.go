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
	"sync"
)

// MemoryStore keeps turns in process memory. Used for tests and
// single-node setups without persistence requirements.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: make(map[string][]Turn),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, turn := range turns {
		s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	}
	return nil
}

// Window implements Store.
func (s *MemoryStore) Window(ctx context.Context, sessionID string, size int) ([]Turn, error) {
	if size <= 0 {
		size = DefaultWindowSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[sessionID]
	window := make([]Turn, 0, size)
	for _, turn := range all {
		if turn.Role == RoleSystem {
			continue
		}
		window = append(window, turn)
	}
	if len(window) > size {
		window = window[len(window)-size:]
	}

	out := make([]Turn, len(window))
	copy(out, window)
	return out, nil
}

// Count returns the number of stored turns for a session.
func (s *MemoryStore) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[sessionID])
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

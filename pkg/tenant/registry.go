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

package tenant

import (
	"fmt"
	"sync/atomic"

	"github.com/kadirpekel/agenthub/pkg/config"
)

// Registry hands out the current snapshot and swaps in new ones on
// reload. Readers take a snapshot once per request and keep it for the
// whole pipeline run.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry seeded with a snapshot of cfg.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{}
	r.current.Store(NewSnapshot(cfg))
	return r
}

// Current returns the active snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Swap validates cfg and atomically replaces the active snapshot.
// In-flight requests keep the snapshot they loaded.
func (r *Registry) Swap(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("rejecting reload: %w", err)
	}
	r.current.Store(NewSnapshot(cfg))
	return nil
}

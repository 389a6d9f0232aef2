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

package tools

import (
	"context"
	"fmt"

	"github.com/kadirpekel/agenthub/pkg/registry"
)

// HandlerFunc is a pre-registered local capability invocable by a
// custom tool. It receives the requesting tenant and the validated
// input and returns the result payload.
type HandlerFunc func(ctx context.Context, tenantID string, input map[string]any) (string, error)

// HandlerRegistry holds custom tool handlers by id.
type HandlerRegistry struct {
	registry.Registry[HandlerFunc]
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		Registry: registry.NewBaseRegistry[HandlerFunc](),
	}
}

// RegisterHandler registers a local capability under the given id.
func (r *HandlerRegistry) RegisterHandler(id string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	return r.Register(id, handler)
}

// GetHandler returns the handler registered under the given id.
func (r *HandlerRegistry) GetHandler(id string) (HandlerFunc, error) {
	handler, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("no handler registered for %q", id)
	}
	return handler, nil
}

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

package rag

import (
	"errors"
	"fmt"
)

// IsolationError reports a cross-tenant chunk detected after a scoped
// query. It is always fatal to the current pipeline run and carries no
// chunk data.
type IsolationError struct {
	// TenantID is the tenant that issued the query.
	TenantID string

	// LeakedTenants lists the foreign tenant ids found in the result set.
	LeakedTenants []string

	// Count is the number of foreign chunks detected.
	Count int
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation: query for tenant %q returned %d chunk(s) from other tenants %v",
		e.TenantID, e.Count, e.LeakedTenants)
}

// IsIsolationError reports whether err is a tenant isolation violation.
func IsIsolationError(err error) bool {
	var isolationErr *IsolationError
	return errors.As(err, &isolationErr)
}

// SearchError wraps failures of the retrieval path with the operation
// and query that produced them.
type SearchError struct {
	Operation string
	Query     string
	Err       error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retrieval %s failed (query: %q): %v", e.Operation, e.Query, e.Err)
	}
	return fmt.Sprintf("retrieval %s failed (query: %q)", e.Operation, e.Query)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

func newSearchError(operation, query string, err error) *SearchError {
	return &SearchError{
		Operation: operation,
		Query:     query,
		Err:       err,
	}
}

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

// Package tools is the tool invocation layer: schema validation,
// call-time permission rechecks, and dispatch across retrieval, http,
// and custom tool kinds. Every attempted call yields exactly one
// ExecutionResult; nothing panics or faults past this boundary.
package tools

import (
	"time"

	"github.com/kadirpekel/agenthub/pkg/rag"
)

// Status of one tool execution.
type Status string

const (
	// StatusOK means the tool ran and produced a payload.
	StatusOK Status = "ok"

	// StatusValidationError means the input failed the tool's schema;
	// the underlying mechanism was never called.
	StatusValidationError Status = "validation_error"

	// StatusExecutionError means the tool was dispatched but failed
	// (timeout, remote error, permission recheck, panic).
	StatusExecutionError Status = "execution_error"
)

// ExecutionResult is the outcome of one attempted tool call.
type ExecutionResult struct {
	ToolID  string        `json:"tool"`
	Status  Status        `json:"status"`
	Payload string        `json:"payload,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`

	// Citations carry source attribution for retrieval results.
	Citations []rag.Citation `json:"citations,omitempty"`

	// EmptyContext is set when a retrieval ran successfully but no chunk
	// survived the threshold. The payload then holds the explicit
	// empty-context marker.
	EmptyContext bool `json:"empty_context,omitempty"`

	// Cause holds the underlying error for callers that branch on error
	// types. Isolation violations surface here and are pipeline-fatal.
	Cause error `json:"-"`
}

// OK reports whether the execution succeeded.
func (r ExecutionResult) OK() bool {
	return r.Status == StatusOK
}

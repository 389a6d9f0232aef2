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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// parseRetryAfter reads an integer-seconds Retry-After style header.
func parseRetryAfter(headers http.Header, name string) time.Duration {
	v := headers.Get(name)
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func parseCount(headers http.Header, name string) int {
	v := headers.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// ParseAnthropicHeaders extracts rate limit info from Anthropic API headers.
// Reset headers carry RFC3339 timestamps; the first parseable one wins.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:        parseRetryAfter(headers, "retry-after"),
		RequestsRemaining: parseCount(headers, "anthropic-ratelimit-requests-remaining"),
	}

	for _, name := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if v := headers.Get(name); v != "" {
			if reset, err := time.Parse(time.RFC3339, v); err == nil {
				info.ResetTime = reset.Unix()
				break
			}
		}
	}

	return info
}

// ParseOpenAIHeaders extracts rate limit info from OpenAI-compatible API
// headers. Reset headers carry unix timestamps.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:        parseRetryAfter(headers, "Retry-After"),
		RequestsRemaining: parseCount(headers, "x-ratelimit-remaining-requests"),
		TokensRemaining:   parseCount(headers, "x-ratelimit-remaining-tokens"),
	}

	for _, name := range []string{
		"x-ratelimit-reset-tokens",
		"x-ratelimit-reset-requests",
	} {
		if v := headers.Get(name); v != "" {
			if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
				info.ResetTime = reset
				break
			}
		}
	}

	return info
}

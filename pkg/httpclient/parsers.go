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

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date.
func ParseRetryAfter(headers http.Header) RateLimitInfo {
	return RateLimitInfo{RetryAfter: retryAfter(headers)}
}

// ParseAnthropicHeaders reads Anthropic's rate limit headers.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: retryAfter(headers)}

	for _, header := range []string{
		"anthropic-ratelimit-requests-reset",
		"anthropic-ratelimit-tokens-reset",
	} {
		if resetStr := headers.Get(header); resetStr != "" {
			if resetTime, err := time.Parse(time.RFC3339, resetStr); err == nil {
				info.ResetTime = resetTime.Unix()
				break
			}
		}
	}
	info.RequestsRemaining = atoi(headers.Get("anthropic-ratelimit-requests-remaining"))
	info.TokensRemaining = atoi(headers.Get("anthropic-ratelimit-tokens-remaining"))
	return info
}

// ParseOpenAIHeaders reads the x-ratelimit-* headers shared by OpenAI,
// Groq and Together. Reset values are durations such as "6m0s" or "20ms".
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: retryAfter(headers)}

	if info.RetryAfter == 0 {
		for _, header := range []string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
			if d, err := time.ParseDuration(headers.Get(header)); err == nil && d > 0 {
				info.RetryAfter = d
				break
			}
		}
	}
	info.RequestsRemaining = atoi(headers.Get("x-ratelimit-remaining-requests"))
	info.TokensRemaining = atoi(headers.Get("x-ratelimit-remaining-tokens"))
	return info
}

func retryAfter(headers http.Header) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

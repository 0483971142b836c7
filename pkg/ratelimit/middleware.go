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

package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// IdentifierFunc extracts the rate limit identifier from an HTTP request.
type IdentifierFunc func(r *http.Request) string

// DefaultIdentifierFunc uses X-Client-ID when present, then the first
// X-Forwarded-For hop, then the remote host.
func DefaultIdentifierFunc(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MiddlewareConfig configures the rate limiting middleware.
type MiddlewareConfig struct {
	Limiter *Limiter

	// IdentifierFunc defaults to DefaultIdentifierFunc.
	IdentifierFunc IdentifierFunc

	// OnLimited defaults to a JSON 429 response.
	OnLimited func(w http.ResponseWriter, r *http.Request, result CheckResult)
}

// Middleware rejects requests over the limit. A nil Limiter passes everything.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.IdentifierFunc == nil {
		cfg.IdentifierFunc = DefaultIdentifierFunc
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = defaultOnLimited
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := cfg.Limiter.Allow(cfg.IdentifierFunc(r))
			addRateLimitHeaders(w, result)
			if !result.Allowed {
				cfg.OnLimited(w, r, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func defaultOnLimited(w http.ResponseWriter, _ *http.Request, result CheckResult) {
	retry := retrySeconds(result)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_exceeded",
			"message": "Too many requests, slow down.",
		},
		"retry_after_seconds": retry,
	})
}

func retrySeconds(result CheckResult) int {
	return max(int(math.Ceil(result.RetryAfter.Seconds())), 1)
}

func addRateLimitHeaders(w http.ResponseWriter, result CheckResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
}

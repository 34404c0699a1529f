// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kestrel Authors
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

// Package kerrors defines the error-kind taxonomy shared by the agent-host
// and tools-provider services. Errors are categorized, not individually
// named, so every layer from the tool executor up to the wire protocol can
// translate a failure into a wire code and a retry decision without string
// matching.
package kerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes a failure the way it must be surfaced to a caller.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindTemplate         Kind = "template_error"
	KindAuth             Kind = "auth_error"
	KindTokenExchange    Kind = "token_exchange_failed"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindRateLimited      Kind = "rate_limited"
	KindCircuitOpen      Kind = "circuit_open"
	KindUpstreamTimeout  Kind = "upstream_timeout"
	KindPollTimeout      Kind = "poll_timeout"
	KindUnavailable      Kind = "unavailable"
	KindConnectionError  Kind = "connection_error"
	KindServerError      Kind = "server_error"
	KindIterationCap     Kind = "iteration_cap"
	KindModelNotFound    Kind = "model_not_found"
	KindUnknown          Kind = "unknown"
)

// retryable records, per kind, whether a caller may retry the same request.
// circuit_open is retryable only after the breaker's recovery timeout; the
// bit here means "retry is sane in principle", not "retry immediately".
var retryable = map[Kind]bool{
	KindRateLimited:     true,
	KindCircuitOpen:     true,
	KindUpstreamTimeout: true,
	KindPollTimeout:     true,
	KindUnavailable:     true,
	KindConnectionError: true,
	KindServerError:     true,
}

// httpStatus maps a Kind to the status code it surfaces as, per spec §7.
var httpStatus = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindTemplate:        http.StatusBadRequest,
	KindAuth:            http.StatusUnauthorized,
	KindTokenExchange:   http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindRateLimited:     http.StatusTooManyRequests,
	KindCircuitOpen:     http.StatusServiceUnavailable,
	KindUpstreamTimeout: http.StatusGatewayTimeout,
	KindPollTimeout:     http.StatusGatewayTimeout,
	KindUnavailable:     http.StatusServiceUnavailable,
	KindConnectionError: http.StatusServiceUnavailable,
	KindServerError:     http.StatusInternalServerError,
	KindModelNotFound:   http.StatusNotFound,
	KindUnknown:         http.StatusInternalServerError,
}

// Error wraps a Kind with a human-readable message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Details carries kind-specific structured context, e.g. the list of
	// JSON Schema validation failures for KindValidation.
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the same request may be retried.
func (e *Error) IsRetryable() bool { return retryable[e.Kind] }

// HTTPStatus returns the status code this error surfaces as.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error carrying cause as its unwrap target.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured details and returns the same error for
// chaining: kerrors.New(...).WithDetails(...).
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err, defaulting to KindUnknown for errors
// that were never categorized.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err, if it is a categorized *Error, permits a
// retry. Uncategorized errors are treated as non-retryable — safer default
// than assuming a foreign failure mode is transient.
func IsRetryable(err error) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.IsRetryable()
	}
	return false
}

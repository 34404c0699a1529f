// Copyright 2025 Kestrel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/kestrelai/kestrel/internal/toolsprovider/circuitbreaker"
	"github.com/kestrelai/kestrel/internal/toolsprovider/domain"
	"github.com/kestrelai/kestrel/internal/toolsprovider/template"
	"github.com/kestrelai/kestrel/pkg/kerrors"
)

// executeAsyncPoll issues the initiating request, then polls
// profile.Poll.StatusURLTemplate on an exponential backoff until the status
// field reaches a completed or failed value, or the attempt budget is
// exhausted (spec §4.10 step 4, async_poll mode).
func (e *Executor) executeAsyncPoll(ctx context.Context, breaker *circuitbreaker.Breaker, req Request, url string, headers map[string]string, body string) Result {
	poll := req.Profile.Poll
	if poll == nil {
		return errorResult(kerrors.New(kerrors.KindValidation, "async_poll tool is missing poll_config"))
	}

	initial := e.executeSyncHTTP(ctx, breaker, req.Profile, url, headers, body)
	if initial.Status == StatusError {
		return initial
	}

	vars := mergeVars(req.Arguments, initial.Result)

	interval := poll.PollIntervalSeconds
	for attempt := 0; attempt < poll.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return errorResult(kerrors.Wrap(kerrors.KindPollTimeout, "poll cancelled", ctx.Err()))
		case <-time.After(durationSeconds(interval)):
		}

		if err := breaker.Allow(ctx); err != nil {
			return errorResult(err)
		}

		statusURL, err := template.Render(poll.StatusURLTemplate, vars)
		if err != nil {
			return errorResult(err)
		}

		pollResult := e.executeSyncHTTP(ctx, breaker, statusPollProfile(req.Profile), statusURL, headers, "")
		if pollResult.Status == StatusError {
			return pollResult
		}

		status, ok := lookupPath(pollResult.Result, poll.StatusFieldPath)
		if !ok {
			return errorResult(kerrors.New(kerrors.KindServerError, fmt.Sprintf("poll response missing status field %q", poll.StatusFieldPath)))
		}
		statusStr := fmt.Sprintf("%v", status)

		if containsValue(poll.CompletedValues, statusStr) {
			result := pollResult.Result
			if poll.ResultFieldPath != "" {
				if v, ok := lookupPath(pollResult.Result, poll.ResultFieldPath); ok {
					result = v
				}
			}
			return Result{Status: StatusOK, Result: result, UpstreamStatus: pollResult.UpstreamStatus}
		}
		if containsValue(poll.FailedValues, statusStr) {
			return errorResult(kerrors.New(kerrors.KindServerError, fmt.Sprintf("upstream reported failed status %q", statusStr)))
		}

		interval = nextInterval(interval, poll.BackoffMultiplier, poll.MaxIntervalSeconds)
	}

	return errorResult(kerrors.New(kerrors.KindPollTimeout, fmt.Sprintf("exceeded %d poll attempts", poll.MaxPollAttempts)))
}

// statusPollProfile derives a GET profile for the poll URL, inheriting the
// parent tool's timeout so polling respects the same deadline discipline.
func statusPollProfile(parent domain.ExecutionProfile) domain.ExecutionProfile {
	return domain.ExecutionProfile{
		Mode:           domain.ModeSyncHTTP,
		Method:         http.MethodGet,
		TimeoutSeconds: parent.TimeoutSeconds,
	}
}

func nextInterval(current, multiplier, max float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	next := current * multiplier
	if max > 0 && next > max {
		return max
	}
	return next
}

func durationSeconds(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond
}

func mergeVars(args map[string]any, initialResult any) map[string]any {
	merged := make(map[string]any, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	if m, ok := initialResult.(map[string]any); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

func containsValue(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package db

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes treated as transient.
const (
	sqlstateDeadlockDetected    = "40P01"
	sqlstateSerializationFailed = "40001"
	sqlstateStatementTimeout    = "57014"
	sqlstateAdminShutdown       = "57P01"
)

const (
	defaultMaxRetryAttempts   = 3
	defaultContentionBackoff  = 250 * time.Millisecond
	defaultBaseBackoff        = 100 * time.Millisecond
	maxRetryAttemptsEnv       = "RELAY_DB_MAX_RETRY_ATTEMPTS"
	contentionBackoffMsEnv    = "RELAY_DB_CONTENTION_BACKOFF_MS"
)

//nolint:gochecknoglobals // process-wide counters
var (
	transientRetries   atomic.Int64
	transientRecovered atomic.Int64
)

// TransientRetries reports how many statements were retried after a
// transient Postgres error.
func TransientRetries() int64 { return transientRetries.Load() }

// TransientRecovered reports how many retried statements eventually succeeded.
func TransientRecovered() int64 { return transientRecovered.Load() }

// classifyPGError returns the SQLSTATE of err and whether it is worth retrying.
func classifyPGError(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateDeadlockDetected, sqlstateSerializationFailed,
			sqlstateStatementTimeout, sqlstateAdminShutdown:
			return pgErr.Code, true
		}

		return pgErr.Code, false
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "40p01"), strings.Contains(msg, "deadlock detected"):
		return sqlstateDeadlockDetected, true
	case strings.Contains(msg, "40001"), strings.Contains(msg, "could not serialize access"):
		return sqlstateSerializationFailed, true
	case strings.Contains(msg, "57014"), strings.Contains(msg, "statement timeout"):
		return sqlstateStatementTimeout, true
	default:
		return "", false
	}
}

type retryPolicy struct {
	maxAttempts       int
	baseBackoff       time.Duration
	contentionBackoff time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts:       envInt(maxRetryAttemptsEnv, defaultMaxRetryAttempts),
		baseBackoff:       defaultBaseBackoff,
		contentionBackoff: time.Duration(envInt(contentionBackoffMsEnv, int(defaultContentionBackoff/time.Millisecond))) * time.Millisecond,
	}
}

// delay is exponential in attempt with up to one base of jitter so that
// competing writers fall out of lockstep.
func (p retryPolicy) delay(attempt int, sqlstate string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.baseBackoff
	if sqlstate == sqlstateDeadlockDetected || sqlstate == sqlstateSerializationFailed {
		base = p.contentionBackoff
	}

	backoff := base * time.Duration(1<<(attempt-1))
	if base <= 0 {
		return backoff
	}

	return backoff + rand.N(base)
}

// run calls fn until it succeeds, fails with a non-transient error, the
// attempts are exhausted or ctx ends.
func (p retryPolicy) run(ctx context.Context, fn func() error) error {
	attempts := max(p.maxAttempts, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				transientRecovered.Add(1)
			}

			return nil
		}

		code, transient := classifyPGError(lastErr)
		if !transient || attempt == attempts {
			return lastErr
		}

		transientRetries.Add(1)

		timer := time.NewTimer(p.delay(attempt, code))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func envInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

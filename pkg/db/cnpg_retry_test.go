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
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTestDeadlock      = errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
	errTestSerialization = errors.New("could not serialize access due to concurrent update")
	errTestTimeout       = errors.New("canceling statement due to statement timeout")
	errTestUnknown       = errors.New("some random database error")
)

func TestClassifyPGError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		transient bool
	}{
		{name: "nil", err: nil, code: "", transient: false},
		{name: "deadlock pg error", err: &pgconn.PgError{Code: "40P01"}, code: sqlstateDeadlockDetected, transient: true},
		{name: "serialization pg error", err: &pgconn.PgError{Code: "40001"}, code: sqlstateSerializationFailed, transient: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, code: sqlstateAdminShutdown, transient: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, code: "23505", transient: false},
		{name: "wrapped pg error", err: fmt.Errorf("upsert: %w", &pgconn.PgError{Code: "40001"}), code: sqlstateSerializationFailed, transient: true},
		{name: "deadlock text", err: errTestDeadlock, code: sqlstateDeadlockDetected, transient: true},
		{name: "serialization text", err: errTestSerialization, code: sqlstateSerializationFailed, transient: true},
		{name: "timeout text", err: errTestTimeout, code: sqlstateStatementTimeout, transient: true},
		{name: "unknown", err: errTestUnknown, code: "", transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, transient := classifyPGError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.transient, transient)
		})
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := retryPolicy{maxAttempts: 3, baseBackoff: 10 * time.Millisecond, contentionBackoff: 40 * time.Millisecond}

	contention := p.delay(1, sqlstateDeadlockDetected)
	assert.GreaterOrEqual(t, contention, 40*time.Millisecond)
	assert.Less(t, contention, 80*time.Millisecond)

	regular := p.delay(1, sqlstateStatementTimeout)
	assert.GreaterOrEqual(t, regular, 10*time.Millisecond)
	assert.Less(t, regular, 20*time.Millisecond)

	assert.GreaterOrEqual(t, p.delay(3, sqlstateStatementTimeout), 40*time.Millisecond)
	assert.Less(t, p.delay(0, sqlstateStatementTimeout), 20*time.Millisecond)
}

func TestRetryPolicyRun(t *testing.T) {
	fast := retryPolicy{maxAttempts: 3, baseBackoff: time.Millisecond, contentionBackoff: time.Millisecond}

	t.Run("recovers from transient errors", func(t *testing.T) {
		calls := 0
		before := TransientRecovered()

		err := fast.run(context.Background(), func() error {
			calls++
			if calls < 3 {
				return &pgconn.PgError{Code: sqlstateDeadlockDetected}
			}

			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, before+1, TransientRecovered())
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		permanent := &pgconn.PgError{Code: "23505"}

		err := fast.run(context.Background(), func() error {
			calls++
			return permanent
		})

		require.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0

		err := fast.run(context.Background(), func() error {
			calls++
			return errTestSerialization
		})

		require.ErrorIs(t, err, errTestSerialization)
		assert.Equal(t, 3, calls)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := retryPolicy{maxAttempts: 5, baseBackoff: time.Hour, contentionBackoff: time.Hour}
		calls := 0

		err := slow.run(ctx, func() error {
			calls++
			cancel()

			return errTestTimeout
		})

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestDefaultRetryPolicyFromEnv(t *testing.T) {
	t.Setenv(maxRetryAttemptsEnv, "7")
	t.Setenv(contentionBackoffMsEnv, "nope")

	p := defaultRetryPolicy()
	assert.Equal(t, 7, p.maxAttempts)
	assert.Equal(t, defaultContentionBackoff, p.contentionBackoff)
}

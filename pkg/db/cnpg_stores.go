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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carverauto/relay/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of *pgxpool.Pool the stores use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// bootstrapSchema creates the minimal tables the relay needs. Real
// deployments manage these with migrations.
const bootstrapSchema = `
CREATE TABLE IF NOT EXISTS relay_tenants (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS relay_devices (
	id             UUID PRIMARY KEY,
	tenant_id      UUID NOT NULL REFERENCES relay_tenants (id),
	alias          TEXT NOT NULL DEFAULT '',
	is_online      BOOLEAN NOT NULL DEFAULT false,
	last_seen      TIMESTAMPTZ NOT NULL,
	connection_id  TEXT NOT NULL DEFAULT '',
	public_ip_v4   TEXT NOT NULL DEFAULT '',
	public_ip_v6   TEXT NOT NULL DEFAULT '',
	facts          JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS relay_devices_tenant_idx ON relay_devices (tenant_id);

CREATE TABLE IF NOT EXISTS relay_alerts (
	id        SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	message   TEXT NOT NULL,
	severity  INTEGER NOT NULL
);
`

// EnsureSchema applies the bootstrap schema.
func EnsureSchema(ctx context.Context, q querier) error {
	if _, err := q.Exec(ctx, bootstrapSchema); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return nil
}

// CNPGStores bundles the Postgres-backed collaborators over one pool.
type CNPGStores struct {
	Devices *CNPGDeviceRepository
	Tenants *CNPGTenantStore
	Alerts  *CNPGAlertStore
}

func NewCNPGStores(q querier) *CNPGStores {
	return &CNPGStores{
		Devices: &CNPGDeviceRepository{q: q, retry: defaultRetryPolicy()},
		Tenants: &CNPGTenantStore{q: q},
		Alerts:  &CNPGAlertStore{q: q},
	}
}

const deviceColumns = `id, tenant_id, alias, is_online, last_seen, connection_id, public_ip_v4, public_ip_v6, facts`

// CNPGDeviceRepository stores devices with their inventory in a JSONB column.
type CNPGDeviceRepository struct {
	q     querier
	retry retryPolicy
}

const upsertDeviceSQL = `
INSERT INTO relay_devices (` + deviceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	tenant_id     = EXCLUDED.tenant_id,
	is_online     = EXCLUDED.is_online,
	last_seen     = EXCLUDED.last_seen,
	connection_id = EXCLUDED.connection_id,
	public_ip_v4  = EXCLUDED.public_ip_v4,
	public_ip_v6  = EXCLUDED.public_ip_v6,
	facts         = EXCLUDED.facts
RETURNING ` + deviceColumns

func (r *CNPGDeviceRepository) Upsert(ctx context.Context, device models.Device) (models.Device, error) {
	if device.ID == uuid.Nil {
		return models.Device{}, ErrDeviceIDRequired
	}

	if device.TenantID == uuid.Nil {
		return models.Device{}, ErrTenantIDRequired
	}

	facts, err := json.Marshal(device.DeviceFacts)
	if err != nil {
		return models.Device{}, fmt.Errorf("failed to encode device facts: %w", err)
	}

	var stored models.Device

	err = r.retry.run(ctx, func() error {
		row := r.q.QueryRow(ctx, upsertDeviceSQL,
			device.ID, device.TenantID, device.Alias, device.IsOnline, device.LastSeen,
			device.ConnectionID, device.PublicIPV4, device.PublicIPV6, facts)

		var scanErr error
		stored, scanErr = scanDevice(row)

		return scanErr
	})
	if err != nil {
		return models.Device{}, err
	}

	return stored, nil
}

func (r *CNPGDeviceRepository) Get(ctx context.Context, id uuid.UUID) (models.Device, error) {
	row := r.q.QueryRow(ctx, `SELECT `+deviceColumns+` FROM relay_devices WHERE id = $1`, id)

	device, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Device{}, ErrDeviceNotFound
	}

	return device, err
}

func (r *CNPGDeviceRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Device, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+deviceColumns+` FROM relay_devices WHERE tenant_id = $1 ORDER BY facts->>'name'`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	out := make([]models.Device, 0)

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return out, nil
}

func (r *CNPGDeviceRepository) Count(ctx context.Context) (DeviceCounts, error) {
	var counts DeviceCounts

	err := r.q.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE is_online) FROM relay_devices`).
		Scan(&counts.Total, &counts.Online)
	if err != nil {
		return DeviceCounts{}, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return counts, nil
}

func scanDevice(row pgx.Row) (models.Device, error) {
	var (
		device models.Device
		facts  []byte
	)

	err := row.Scan(&device.ID, &device.TenantID, &device.Alias, &device.IsOnline, &device.LastSeen,
		&device.ConnectionID, &device.PublicIPV4, &device.PublicIPV6, &facts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Device{}, err
		}

		return models.Device{}, fmt.Errorf("%w: %w", ErrFailedToScan, err)
	}

	if len(facts) > 0 {
		if err := json.Unmarshal(facts, &device.DeviceFacts); err != nil {
			return models.Device{}, fmt.Errorf("%w: device facts: %w", ErrFailedToScan, err)
		}
	}

	return device, nil
}

// CNPGTenantStore reads tenants from relay_tenants.
type CNPGTenantStore struct {
	q querier
}

func (s *CNPGTenantStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool

	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM relay_tenants WHERE id = $1)`, id).
		Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return exists, nil
}

func (s *CNPGTenantStore) First(ctx context.Context) (models.Tenant, error) {
	var t models.Tenant

	err := s.q.QueryRow(ctx, `SELECT id, name, created_at FROM relay_tenants ORDER BY created_at LIMIT 1`).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, ErrNoTenants
	}

	if err != nil {
		return models.Tenant{}, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return t, nil
}

func (s *CNPGTenantStore) Count(ctx context.Context) (int64, error) {
	var n int64

	if err := s.q.QueryRow(ctx, `SELECT count(*) FROM relay_tenants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return n, nil
}

func (s *CNPGTenantStore) Create(ctx context.Context, tenant models.Tenant) (models.Tenant, error) {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}

	err := s.q.QueryRow(ctx,
		`INSERT INTO relay_tenants (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, created_at`,
		tenant.ID, tenant.Name).Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return tenant, nil
}

// CNPGAlertStore keeps the single alert row.
type CNPGAlertStore struct {
	q querier
}

func (s *CNPGAlertStore) GetCurrent(ctx context.Context) (models.AlertBroadcast, bool, error) {
	var alert models.AlertBroadcast

	err := s.q.QueryRow(ctx, `SELECT message, severity FROM relay_alerts WHERE id = 1`).
		Scan(&alert.Message, &alert.Severity)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AlertBroadcast{}, false, nil
	}

	if err != nil {
		return models.AlertBroadcast{}, false, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return alert, true, nil
}

func (s *CNPGAlertStore) Store(ctx context.Context, alert models.AlertBroadcast) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO relay_alerts (id, message, severity) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET message = EXCLUDED.message, severity = EXCLUDED.severity`,
		alert.Message, int(alert.Severity))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return nil
}

func (s *CNPGAlertStore) Clear(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM relay_alerts`); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return nil
}

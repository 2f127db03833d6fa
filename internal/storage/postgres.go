package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/JacobSoderblom/krypin/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS areas (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	parent UUID
);

CREATE TABLE IF NOT EXISTS devices (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	adapter TEXT NOT NULL,
	manufacturer TEXT,
	model TEXT,
	sw_version TEXT,
	hw_version TEXT,
	area UUID,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS entities (
	id UUID PRIMARY KEY,
	device_id UUID NOT NULL,
	name TEXT NOT NULL,
	domain TEXT NOT NULL,
	icon TEXT,
	key TEXT,
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS entity_states (
	id BIGSERIAL PRIMARY KEY,
	entity_id UUID NOT NULL,
	value JSONB NOT NULL DEFAULT 'null'::jsonb,
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_changed TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	source TEXT
);

CREATE INDEX IF NOT EXISTS idx_entity_states_entity_updated
	ON entity_states (entity_id, last_updated DESC);
`

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to databaseURL, applies the schema, and returns
// the store.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

func (s *Postgres) exists(ctx context.Context, table string, id uuid.UUID) (bool, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE id = $1`, table)
	if err := s.db.QueryRowxContext(ctx, query, id).Scan(&count); err != nil {
		return false, fmt.Errorf("query %s: %w", table, err)
	}
	return count > 0, nil
}

func (s *Postgres) ListAreas(ctx context.Context) ([]model.Area, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT id, name, parent FROM areas`)
	if err != nil {
		return nil, fmt.Errorf("query areas: %w", err)
	}
	defer rows.Close()

	var areas []model.Area
	for rows.Next() {
		var a model.Area
		if err := rows.Scan(&a.ID, &a.Name, &a.Parent); err != nil {
			return nil, fmt.Errorf("scan area: %w", err)
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

func (s *Postgres) UpsertArea(ctx context.Context, area model.Area) error {
	if area.Parent != nil {
		ok, err := s.exists(ctx, "areas", *area.Parent)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("parent area not found: %s: %w", *area.Parent, ErrReferentialIntegrity)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO areas (id, name, parent) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, parent = EXCLUDED.parent`,
		area.ID, area.Name, area.Parent)
	if err != nil {
		return fmt.Errorf("upsert area: %w", err)
	}
	return nil
}

func (s *Postgres) GetArea(ctx context.Context, id uuid.UUID) (model.Area, error) {
	var a model.Area
	err := s.db.QueryRowxContext(ctx, `SELECT id, name, parent FROM areas WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Parent)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Area{}, fmt.Errorf("area %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Area{}, fmt.Errorf("get area: %w", err)
	}
	return a, nil
}

func (s *Postgres) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name, adapter, manufacturer, model, sw_version, hw_version, area, metadata
		FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *Postgres) UpsertDevice(ctx context.Context, device model.Device) error {
	if device.Area != nil {
		ok, err := s.exists(ctx, "areas", *device.Area)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("area not found for device: %s: %w", *device.Area, ErrReferentialIntegrity)
		}
	}

	metadata, err := json.Marshal(device.Metadata)
	if err != nil {
		return fmt.Errorf("marshal device metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, adapter, manufacturer, model, sw_version, hw_version, area, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			adapter = EXCLUDED.adapter,
			manufacturer = EXCLUDED.manufacturer,
			model = EXCLUDED.model,
			sw_version = EXCLUDED.sw_version,
			hw_version = EXCLUDED.hw_version,
			area = EXCLUDED.area,
			metadata = EXCLUDED.metadata`,
		device.ID, device.Name, device.Adapter, device.Manufacturer, device.Model,
		device.SWVersion, device.HWVersion, device.Area, string(metadata))
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (s *Postgres) GetDevice(ctx context.Context, id uuid.UUID) (model.Device, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, name, adapter, manufacturer, model, sw_version, hw_version, area, metadata
		FROM devices WHERE id = $1`, id)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Device{}, err
	}
	return d, nil
}

func (s *Postgres) ListEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, device_id, name, domain, icon, key, attributes FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *Postgres) UpsertEntity(ctx context.Context, entity model.Entity) error {
	ok, err := s.exists(ctx, "devices", entity.DeviceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("device not found for entity: %s: %w", entity.DeviceID, ErrReferentialIntegrity)
	}

	attributes, err := json.Marshal(entity.Attributes)
	if err != nil {
		return fmt.Errorf("marshal entity attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, device_id, name, domain, icon, key, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			name = EXCLUDED.name,
			domain = EXCLUDED.domain,
			icon = EXCLUDED.icon,
			key = EXCLUDED.key,
			attributes = EXCLUDED.attributes`,
		entity.ID, entity.DeviceID, entity.Name, string(entity.Domain),
		entity.Icon, entity.Key, string(attributes))
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

func (s *Postgres) GetEntity(ctx context.Context, id uuid.UUID) (model.Entity, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, device_id, name, domain, icon, key, attributes FROM entities WHERE id = $1`, id)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Entity{}, err
	}
	return e, nil
}

func (s *Postgres) SetEntityState(ctx context.Context, state model.EntityState) error {
	ok, err := s.exists(ctx, "entities", state.EntityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("entity not found: %s: %w", state.EntityID, ErrReferentialIntegrity)
	}

	value, err := json.Marshal(state.Value)
	if err != nil {
		return fmt.Errorf("marshal state value: %w", err)
	}
	attributes, err := json.Marshal(state.Attributes)
	if err != nil {
		return fmt.Errorf("marshal state attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_states (entity_id, value, attributes, last_changed, last_updated, source)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		state.EntityID, string(value), string(attributes),
		state.LastChanged, state.LastUpdated, state.Source)
	if err != nil {
		return fmt.Errorf("insert entity state: %w", err)
	}
	return nil
}

func (s *Postgres) LatestEntityState(ctx context.Context, entityID uuid.UUID) (model.EntityState, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT entity_id, value, attributes, last_changed, last_updated, source
		FROM entity_states WHERE entity_id = $1
		ORDER BY last_updated DESC, id DESC LIMIT 1`, entityID)

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EntityState{}, fmt.Errorf("no state for entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return model.EntityState{}, err
	}
	return st, nil
}

func (s *Postgres) EntityStateHistory(ctx context.Context, entityID uuid.UUID, since *time.Time, limit int) ([]model.EntityState, error) {
	if limit < 0 {
		limit = 0
	}

	query := `
		SELECT entity_id, value, attributes, last_changed, last_updated, source
		FROM entity_states WHERE entity_id = $1`
	args := []any{entityID}
	if since != nil {
		query += ` AND last_changed >= $2 ORDER BY last_updated DESC, id DESC LIMIT $3`
		args = append(args, *since, limit)
	} else {
		query += ` ORDER BY last_updated DESC, id DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entity states: %w", err)
	}
	defer rows.Close()

	var states []model.EntityState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// scanner covers both *sqlx.Row and *sqlx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (model.Device, error) {
	var d model.Device
	var metadata []byte

	err := row.Scan(&d.ID, &d.Name, &d.Adapter, &d.Manufacturer, &d.Model,
		&d.SWVersion, &d.HWVersion, &d.Area, &metadata)
	if err != nil {
		return model.Device{}, err
	}

	if err := unmarshalObject(metadata, &d.Metadata); err != nil {
		return model.Device{}, fmt.Errorf("unmarshal device metadata: %w", err)
	}
	return d, nil
}

func scanEntity(row scanner) (model.Entity, error) {
	var e model.Entity
	var domain string
	var attributes []byte

	err := row.Scan(&e.ID, &e.DeviceID, &e.Name, &domain, &e.Icon, &e.Key, &attributes)
	if err != nil {
		return model.Entity{}, err
	}

	e.Domain = model.EntityDomain(domain)
	if !e.Domain.Valid() {
		return model.Entity{}, fmt.Errorf("invalid entity domain %q", domain)
	}
	if err := unmarshalObject(attributes, &e.Attributes); err != nil {
		return model.Entity{}, fmt.Errorf("unmarshal entity attributes: %w", err)
	}
	return e, nil
}

func scanState(row scanner) (model.EntityState, error) {
	var st model.EntityState
	var value, attributes []byte

	err := row.Scan(&st.EntityID, &value, &attributes, &st.LastChanged, &st.LastUpdated, &st.Source)
	if err != nil {
		return model.EntityState{}, err
	}

	if len(value) > 0 {
		if err := json.Unmarshal(value, &st.Value); err != nil {
			return model.EntityState{}, fmt.Errorf("unmarshal state value: %w", err)
		}
	}
	if err := unmarshalObject(attributes, &st.Attributes); err != nil {
		return model.EntityState{}, fmt.Errorf("unmarshal state attributes: %w", err)
	}
	return st, nil
}

func unmarshalObject(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		*dst = make(map[string]any)
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = make(map[string]any)
	}
	return nil
}

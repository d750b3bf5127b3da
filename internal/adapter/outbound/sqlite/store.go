// Package sqlite provides a SQLite-backed implementation of the engine's
// stores. Records are persisted as JSON documents with indexed lookup
// columns, using the pure-Go driver so builds stay CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/container"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS communities (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS permissions (
	id     TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	seq    INTEGER,
	data   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_permissions_target ON permissions(target, seq);
CREATE TABLE IF NOT EXISTS conditions (
	id         TEXT PRIMARY KEY,
	source_key TEXT NOT NULL UNIQUE,
	action_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	seq        INTEGER,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conditions_action ON conditions(action_id, seq);
CREATE TABLE IF NOT EXISTS actions (
	id           TEXT PRIMARY KEY,
	container_id TEXT NOT NULL DEFAULT '',
	change_type  TEXT NOT NULL,
	seq          INTEGER,
	data         TEXT NOT NULL,
	change_data  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_container ON actions(container_id, seq);
CREATE TABLE IF NOT EXISTS containers (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
`

// Store implements the resource, community, permission, condition, action,
// and container stores over one SQLite database.
type Store struct {
	db         *sql.DB
	changes    *change.Registry
	conditions *condition.Registry

	seqMu sync.Mutex
	seq   int64
}

// Open opens (and if necessary creates) the database at path and applies
// the schema. The registries decode persisted change and condition
// payloads back into their concrete types.
func Open(path string, changes *change.Registry, conditions *condition.Registry) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}
	// The driver serializes access; a single connection avoids table locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{db: db, changes: changes, conditions: conditions}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// loadSeq restores the ordering counter past any persisted rows.
func (s *Store) loadSeq() error {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM (
		SELECT seq FROM permissions UNION ALL
		SELECT seq FROM conditions UNION ALL
		SELECT seq FROM actions)`)
	return row.Scan(&s.seq)
}

func (s *Store) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

// GetResource implements entity.ResourceStore.
func (s *Store) GetResource(ctx context.Context, id string) (*entity.Resource, error) {
	var r entity.Resource
	if err := s.getJSON(ctx, "resources", id, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrResourceNotFound
		}
		return nil, err
	}
	return &r, nil
}

// SaveResource implements entity.ResourceStore.
func (s *Store) SaveResource(ctx context.Context, r *entity.Resource) error {
	return s.putJSON(ctx, "resources", r.ID, r)
}

// DeleteResource implements entity.ResourceStore.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrResourceNotFound
	}
	return nil
}

// GetCommunity implements community.Store.
func (s *Store) GetCommunity(ctx context.Context, id string) (*community.Community, error) {
	var c community.Community
	if err := s.getJSON(ctx, "communities", id, &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, community.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// SaveCommunity implements community.Store.
func (s *Store) SaveCommunity(ctx context.Context, c *community.Community) error {
	return s.putJSON(ctx, "communities", c.ID, c)
}

// GetPermission implements permission.Store.
func (s *Store) GetPermission(ctx context.Context, id string) (*permission.Record, error) {
	var r permission.Record
	if err := s.getJSON(ctx, "permissions", id, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, permission.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// PermissionsForTarget implements permission.Store.
func (s *Store) PermissionsForTarget(ctx context.Context, target entity.Ref) ([]*permission.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM permissions WHERE target = ? ORDER BY seq`, target.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*permission.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r permission.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decoding permission record: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// SavePermission implements permission.Store.
func (s *Store) SavePermission(ctx context.Context, r *permission.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding permission record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO permissions (id, target, seq, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET target = excluded.target, data = excluded.data`,
		r.ID, r.Target.String(), s.nextSeq(), string(raw))
	return err
}

// DeletePermission implements permission.Store.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return permission.ErrNotFound
	}
	return nil
}

// GetInstance implements condition.Store.
func (s *Store) GetInstance(ctx context.Context, id string) (condition.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT type, data FROM conditions WHERE id = ?`, id)
	return s.scanInstance(row)
}

// SaveInstance implements condition.Store.
func (s *Store) SaveInstance(ctx context.Context, inst condition.Instance) error {
	raw, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encoding condition instance: %w", err)
	}
	src := inst.Source()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conditions (id, source_key, action_id, type, seq, data) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		inst.ID(), src.Key(), src.ActionID, string(inst.Type()), s.nextSeq(), string(raw))
	return err
}

// InstanceForSource implements condition.Store.
func (s *Store) InstanceForSource(ctx context.Context, src condition.Source) (condition.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT type, data FROM conditions WHERE source_key = ?`, src.Key())
	return s.scanInstance(row)
}

// InstancesForAction implements condition.Store.
func (s *Store) InstancesForAction(ctx context.Context, actionID string) ([]condition.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, data FROM conditions WHERE action_id = ? ORDER BY seq`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []condition.Instance
	for rows.Next() {
		var typ, raw string
		if err := rows.Scan(&typ, &raw); err != nil {
			return nil, err
		}
		inst, err := s.conditions.Decode(condition.Type(typ), []byte(raw))
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanInstance(row rowScanner) (condition.Instance, error) {
	var typ, raw string
	if err := row.Scan(&typ, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, condition.ErrNotFound
		}
		return nil, err
	}
	return s.conditions.Decode(condition.Type(typ), []byte(raw))
}

// GetAction implements action.Store.
func (s *Store) GetAction(ctx context.Context, id string) (*action.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT change_type, data, change_data FROM actions WHERE id = ?`, id)
	return s.scanAction(row)
}

// SaveAction implements action.Store. The polymorphic change descriptor is
// stored beside the action row under its type tag.
func (s *Store) SaveAction(ctx context.Context, a *action.Action) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}
	changeRaw, err := json.Marshal(a.Change)
	if err != nil {
		return fmt.Errorf("encoding change descriptor: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (id, container_id, change_type, seq, data, change_data) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET container_id = excluded.container_id,
			data = excluded.data, change_data = excluded.change_data`,
		a.ID, a.ContainerID, a.Change.Type(), s.nextSeq(), string(raw), string(changeRaw))
	return err
}

// ActionsForContainer implements action.Store.
func (s *Store) ActionsForContainer(ctx context.Context, containerID string) ([]*action.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT change_type, data, change_data FROM actions WHERE container_id = ? ORDER BY seq`, containerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*action.Action
	for rows.Next() {
		act, err := s.scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, act)
	}
	return actions, rows.Err()
}

func (s *Store) scanAction(row rowScanner) (*action.Action, error) {
	var changeType, raw, changeRaw string
	if err := row.Scan(&changeType, &raw, &changeRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, action.ErrNotFound
		}
		return nil, err
	}
	var a action.Action
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}
	ch, err := s.changes.Decode(changeType, []byte(changeRaw))
	if err != nil {
		return nil, fmt.Errorf("decoding change descriptor: %w", err)
	}
	a.Change = ch
	return &a, nil
}

// GetContainer implements container.Store.
func (s *Store) GetContainer(ctx context.Context, id string) (*container.Container, error) {
	var c container.Container
	if err := s.getJSON(ctx, "containers", id, &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, container.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// SaveContainer implements container.Store.
func (s *Store) SaveContainer(ctx context.Context, c *container.Container) error {
	return s.putJSON(ctx, "containers", c.ID, c)
}

// getJSON loads one JSON document from a two-column table.
func (s *Store) getJSON(ctx context.Context, table, id string, out any) error {
	var raw string
	row := s.db.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id)
	if err := row.Scan(&raw); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decoding %s row %s: %w", table, id, err)
	}
	return nil
}

// putJSON upserts one JSON document into a two-column table.
func (s *Store) putJSON(ctx context.Context, table, id string, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s row %s: %w", table, id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, string(raw))
	return err
}

// Compile-time interface verification.
var (
	_ entity.ResourceStore = (*Store)(nil)
	_ community.Store      = (*Store)(nil)
	_ permission.Store     = (*Store)(nil)
	_ condition.Store      = (*Store)(nil)
	_ action.Store         = (*Store)(nil)
	_ container.Store      = (*Store)(nil)
)

// Package postgres implements the RecordStore capability against the
// production-tracking database's entity tables: one generic records table
// with a JSONB field bag, plus an ordered link table for reference fields.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
)

// Config carries what the adapter cannot read from the database itself.
type Config struct {
	// BaseURL is the record store UI root used for deep links.
	BaseURL string
	// NameFields overrides the display-name field per record type; types
	// not listed use "name".
	NameFields map[string]string
	// TrashedField is the deletion marker column filter key (default
	// "trashed").
	TrashedField string
}

type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

func New(pool *pgxpool.Pool, cfg Config) *Store {
	if cfg.TrashedField == "" {
		cfg.TrashedField = "trashed"
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) Find(ctx context.Context, recordType string, filter remote.Filter, fields []string) ([]model.Record, error) {
	where := []string{"record_type = $1"}
	args := []any{recordType}
	trashed := false

	for field, value := range filter {
		if field == s.cfg.TrashedField {
			trashed, _ = value.(bool)
			continue
		}
		switch v := value.(type) {
		case model.Reference:
			args = append(args, field, v.ID)
			where = append(where, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM record_links l WHERE l.record_type = r.record_type AND l.record_id = r.id AND l.field = $%d AND l.target_id = $%d)",
				len(args)-1, len(args)))
		default:
			args = append(args, field, fmt.Sprint(v))
			where = append(where, fmt.Sprintf("r.fields->>$%d = $%d", len(args)-1, len(args)))
		}
	}
	args = append(args, trashed)
	where = append(where, fmt.Sprintf("r.trashed = $%d", len(args)))

	query := "SELECT r.id, r.fields FROM records r WHERE " + strings.Join(where, " AND ") + " ORDER BY r.id"
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding %s records: %w", recordType, err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		rec, err := s.buildRecord(ctx, recordType, id, raw, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *Store) FindOne(ctx context.Context, recordType, id string, fields []string) (*model.Record, error) {
	wantTrashed := false
	for _, f := range fields {
		if f == s.cfg.TrashedField {
			wantTrashed = true
		}
	}

	var raw []byte
	var trashed bool
	err := s.pool.QueryRow(ctx,
		"SELECT fields, trashed FROM records WHERE record_type = $1 AND id = $2",
		recordType, id).Scan(&raw, &trashed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("fetching %s %s: %w", recordType, id, err)
	}
	// A trashed record is only visible when the caller asked for the
	// deletion marker, mirroring the record store's retired-state fetch.
	if trashed && !wantTrashed {
		return nil, remote.ErrNotFound
	}

	rec, err := s.buildRecord(ctx, recordType, id, raw, fields)
	if err != nil {
		return nil, err
	}
	if wantTrashed {
		rec.Fields[s.cfg.TrashedField] = trashed
	}
	return rec, nil
}

func (s *Store) buildRecord(ctx context.Context, recordType, id string, raw []byte, fields []string) (*model.Record, error) {
	all := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &all); err != nil {
			return nil, fmt.Errorf("decoding fields of %s %s: %w", recordType, id, err)
		}
	}

	links, err := s.loadLinks(ctx, recordType, id)
	if err != nil {
		return nil, err
	}
	for field, refs := range links {
		all[field] = refs
	}

	rec := &model.Record{Type: recordType, ID: id, Fields: map[string]any{}}
	if len(fields) == 0 {
		rec.Fields = all
		return rec, nil
	}
	for _, f := range fields {
		if v, ok := all[f]; ok {
			rec.Fields[f] = v
		}
	}
	return rec, nil
}

func (s *Store) loadLinks(ctx context.Context, recordType, id string) (map[string][]model.Reference, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT field, target_type, target_id, target_name FROM record_links WHERE record_type = $1 AND record_id = $2 ORDER BY field, position",
		recordType, id)
	if err != nil {
		return nil, fmt.Errorf("loading links of %s %s: %w", recordType, id, err)
	}
	defer rows.Close()

	links := map[string][]model.Reference{}
	for rows.Next() {
		var field string
		var ref model.Reference
		if err := rows.Scan(&field, &ref.Type, &ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		links[field] = append(links[field], ref)
	}
	return links, rows.Err()
}

func (s *Store) Create(ctx context.Context, recordType string, data map[string]any) (*model.Record, error) {
	scalars, links := splitLinks(data)
	raw, err := json.Marshal(scalars)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx,
		"INSERT INTO records (record_type, fields) VALUES ($1, $2) RETURNING id",
		recordType, raw).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating %s record: %w", recordType, err)
	}
	if err := insertLinks(ctx, tx, recordType, id, links); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	for k, v := range scalars {
		fields[k] = v
	}
	for k, v := range links {
		fields[k] = v
	}
	return &model.Record{Type: recordType, ID: id, Fields: fields}, nil
}

func (s *Store) Update(ctx context.Context, recordType, id string, data map[string]any) error {
	scalars, links := splitLinks(data)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if len(scalars) > 0 {
		raw, err := json.Marshal(scalars)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			"UPDATE records SET fields = fields || $3, updated_at = now() WHERE record_type = $1 AND id = $2",
			recordType, id, raw)
		if err != nil {
			return fmt.Errorf("updating %s %s: %w", recordType, id, err)
		}
		if tag.RowsAffected() == 0 {
			return remote.ErrNotFound
		}
	}
	for field := range links {
		if _, err := tx.Exec(ctx,
			"DELETE FROM record_links WHERE record_type = $1 AND record_id = $2 AND field = $3",
			recordType, id, field); err != nil {
			return err
		}
	}
	if err := insertLinks(ctx, tx, recordType, id, links); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, recordType, id string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE records SET trashed = true, updated_at = now() WHERE record_type = $1 AND id = $2",
		recordType, id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", recordType, id, err)
	}
	if tag.RowsAffected() == 0 {
		return remote.ErrNotFound
	}
	return nil
}

func (s *Store) FieldSchema(ctx context.Context, recordType, field string) (*model.FieldSchema, error) {
	var kind string
	var multi bool
	var targets []string
	err := s.pool.QueryRow(ctx,
		"SELECT kind, multi, target_types FROM record_fields WHERE record_type = $1 AND field = $2",
		recordType, field).Scan(&kind, &multi, &targets)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("resolving schema of %s.%s: %w", recordType, field, err)
	}
	return &model.FieldSchema{
		Name:        field,
		Kind:        model.FieldKind(kind),
		Multi:       multi,
		TargetTypes: targets,
	}, nil
}

func (s *Store) NameField(recordType string) string {
	if f, ok := s.cfg.NameFields[recordType]; ok {
		return f
	}
	return "name"
}

func (s *Store) PageURL(record *model.Record) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), strings.ToLower(record.Type), record.ID)
}

func splitLinks(data map[string]any) (map[string]any, map[string][]model.Reference) {
	scalars := map[string]any{}
	links := map[string][]model.Reference{}
	for k, v := range data {
		switch ref := v.(type) {
		case model.Reference:
			links[k] = []model.Reference{ref}
		case []model.Reference:
			links[k] = ref
		default:
			scalars[k] = v
		}
	}
	return scalars, links
}

func insertLinks(ctx context.Context, tx pgx.Tx, recordType, id string, links map[string][]model.Reference) error {
	for field, refs := range links {
		for pos, ref := range refs {
			if _, err := tx.Exec(ctx,
				"INSERT INTO record_links (record_type, record_id, field, position, target_type, target_id, target_name) VALUES ($1, $2, $3, $4, $5, $6, $7)",
				recordType, id, field, pos, ref.Type, ref.ID, ref.Name); err != nil {
				return fmt.Errorf("writing link %s.%s: %w", recordType, field, err)
			}
		}
	}
	return nil
}

var _ remote.RecordStore = (*Store)(nil)

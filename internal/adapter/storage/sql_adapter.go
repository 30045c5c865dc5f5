package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/loadout/internal/core/domain"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

const (
	selectBuildColumns = `SELECT id, name, description, type, tier, created_at FROM builds`
	selectItemColumns  = `SELECT id, build_id, slot, item_name, item_description, item_image, is_alternative FROM build_items`
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLAdapter) CreateBuild(ctx context.Context, fields domain.BuildFields) (int64, error) {
	createdAt := s.now().UTC().Truncate(time.Microsecond)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (name, description, type, tier, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		fields.Name, nullString(fields.Description), fields.Type, nullTier(fields.Tier),
		createdAt.Format(timestampLayout),
	)
	if err != nil {
		return 0, domain.StorageError("insert build", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, domain.StorageError("read build id", err)
	}

	return id, nil
}

func (s *SQLAdapter) GetBuild(ctx context.Context, id int64) (*domain.Build, error) {
	return getBuild(ctx, s.db, id)
}

func (s *SQLAdapter) ListBuilds(ctx context.Context, filter domain.BuildFilter) ([]domain.Build, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(selectBuildColumns)
	query.WriteString(` WHERE 1 = 1`)
	if filter.Type != "" {
		query.WriteString(` AND type = ?`)
		args = append(args, filter.Type)
	}
	if filter.Tier != nil {
		query.WriteString(` AND tier = ?`)
		args = append(args, int64(*filter.Tier))
	}
	if filter.NewestFirst {
		query.WriteString(` ORDER BY created_at DESC, id DESC`)
	} else {
		query.WriteString(` ORDER BY id ASC`)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, domain.StorageError("query builds", err)
	}
	defer rows.Close()

	var builds []domain.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, domain.StorageError("scan build", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("iterate builds", err)
	}

	return builds, nil
}

func (s *SQLAdapter) GetItems(ctx context.Context, buildID int64) (domain.Items, error) {
	return getItems(ctx, s.db, buildID)
}

func (s *SQLAdapter) LoadBuild(ctx context.Context, id int64) (*domain.BuildWithItems, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.StorageError("begin tx", err)
	}
	defer tx.Rollback()

	b, err := getBuild(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	items, err := getItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.StorageError("commit", err)
	}

	return &domain.BuildWithItems{Build: *b, Items: items}, nil
}

// ReplaceBuild runs update, delete and insert-many in one transaction. Any
// failure, including ctx cancellation, leaves the build as it was.
func (s *SQLAdapter) ReplaceBuild(ctx context.Context, id int64, fields domain.BuildFields, items []domain.BuildItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("begin tx", err)
	}
	defer tx.Rollback()

	if err := s.lockBuild(ctx, tx, id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE builds
		SET name = ?, description = ?, type = ?, tier = ?
		WHERE id = ?`,
		fields.Name, nullString(fields.Description), fields.Type, nullTier(fields.Tier), id,
	)
	if err != nil {
		return domain.StorageError("update build", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM build_items WHERE build_id = ?`, id); err != nil {
		return domain.StorageError("delete items", err)
	}

	if len(items) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO build_items (build_id, slot, item_name, item_description, item_image, is_alternative)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return domain.StorageError("prepare item insert", err)
		}
		defer stmt.Close()

		for _, item := range items {
			_, err := stmt.ExecContext(ctx,
				id, item.Slot, item.ItemName,
				nullString(item.ItemDescription), nullString(item.ItemImage), item.IsAlternative,
			)
			if err != nil {
				return domain.StorageError(fmt.Sprintf("insert item %q into slot %q", item.ItemName, item.Slot), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageError("commit", err)
	}

	return nil
}

func (s *SQLAdapter) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLAdapter) Close() error {
	return s.db.Close()
}

// lockBuild checks the build exists. On MySQL the row stays locked until the
// transaction ends so replaces of one build run one after another; SQLite
// already serializes writers.
func (s *SQLAdapter) lockBuild(ctx context.Context, tx *sql.Tx, id int64) error {
	query := `SELECT id FROM builds WHERE id = ?`
	if s.dialect == DialectMySQL {
		query += ` FOR UPDATE`
	}

	var locked int64
	err := tx.QueryRowContext(ctx, query, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.StorageError("lock build", err)
	}

	return nil
}

func getBuild(ctx context.Context, q querier, id int64) (*domain.Build, error) {
	b, err := scanBuild(q.QueryRowContext(ctx, selectBuildColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, domain.StorageError("query build", err)
	}

	return &b, nil
}

func getItems(ctx context.Context, q querier, buildID int64) (domain.Items, error) {
	rows, err := q.QueryContext(ctx, selectItemColumns+`
		WHERE build_id = ?
		ORDER BY is_alternative, id`, buildID)
	if err != nil {
		return nil, domain.StorageError("query items", err)
	}
	defer rows.Close()

	var items []domain.BuildItem
	for rows.Next() {
		var (
			item        domain.BuildItem
			description sql.NullString
			image       sql.NullString
		)
		err := rows.Scan(&item.ID, &item.BuildID, &item.Slot, &item.ItemName, &description, &image, &item.IsAlternative)
		if err != nil {
			return nil, domain.StorageError("scan item", err)
		}
		item.ItemDescription = description.String
		item.ItemImage = image.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("iterate items", err)
	}

	return domain.GroupItems(items), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (domain.Build, error) {
	var (
		b           domain.Build
		description sql.NullString
		tier        sql.NullInt64
		createdAt   timestamp
	)
	if err := row.Scan(&b.ID, &b.Name, &description, &b.Type, &tier, &createdAt); err != nil {
		return domain.Build{}, err
	}

	b.Description = description.String
	if tier.Valid {
		b.Tier = domain.IntPtr(int(tier.Int64))
	}
	b.CreatedAt = time.Time(createdAt)

	return b, nil
}

// timestamp accepts both drivers' renderings of a DATETIME column.
type timestamp time.Time

var timestampLayouts = []string{
	timestampLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = timestamp(v.UTC())
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		*t = timestamp(time.Time{})
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *timestamp) parse(v string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, v); err == nil {
			*t = timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", v)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTier(tier *int) any {
	if tier == nil {
		return nil
	}
	return int64(*tier)
}

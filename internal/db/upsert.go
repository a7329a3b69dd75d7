package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk merge into Table keyed by ConflictKeys.
type UpsertConfig struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	// UpdateCols are overwritten on conflict. Nil means every column that is
	// not a conflict key.
	UpdateCols []string
	// KeepExisting leaves conflicting rows untouched (DO NOTHING).
	KeepExisting bool
}

func (c UpsertConfig) validate() error {
	switch {
	case len(c.Columns) == 0:
		return eris.Errorf("db: upsert %s: no columns specified", c.Table)
	case len(c.ConflictKeys) == 0:
		return eris.Errorf("db: upsert %s: no conflict keys specified", c.Table)
	}
	return nil
}

func (c UpsertConfig) stagingTable() string { return "_tmp_upsert_" + c.Table }

// BulkUpsert copies rows into a transaction-scoped staging table and merges
// them into the target with INSERT ... ON CONFLICT. It returns the rows
// written.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", cfg.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := cfg.stagingTable()
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		ident(staging), ident(cfg.Table))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy %d rows", cfg.Table, len(rows))
	}

	tag, err := tx.Exec(ctx, upsertSQL(cfg, staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func upsertSQL(cfg UpsertConfig, source string) string {
	cols := identList(cfg.Columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		ident(cfg.Table), cols, cols, ident(source), identList(cfg.ConflictKeys), conflictAction(cfg))
}

func conflictAction(cfg UpsertConfig) string {
	if cfg.KeepExisting {
		return "DO NOTHING"
	}
	update := cfg.UpdateCols
	if update == nil {
		for _, c := range cfg.Columns {
			if !slices.Contains(cfg.ConflictKeys, c) {
				update = append(update, c)
			}
		}
	}
	sets := make([]string, 0, len(update))
	for _, c := range update {
		sets = append(sets, ident(c)+" = EXCLUDED."+ident(c))
	}
	return "DO UPDATE SET " + strings.Join(sets, ", ")
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func identList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident(n)
	}
	return strings.Join(out, ", ")
}

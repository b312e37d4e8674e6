package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

// ClickHouseDeadLetter writes fatally-failed batches to the dead_letter
// table created by schemaDDL, structurally satisfying worker.DeadLetter
// without either package importing the other.
type ClickHouseDeadLetter struct {
	db       *sql.DB
	database string
	nextID   uint64
}

// NewClickHouseDeadLetter wraps an already-open store's pool. Call it with
// the same cfg.Database used to build the Store.
func NewClickHouseDeadLetter(db *sql.DB, database string) *ClickHouseDeadLetter {
	return &ClickHouseDeadLetter{db: db, database: database}
}

// Put inserts one dead-letter record per row, with the full row payload
// serialized as JSON so the reason for rejection can be investigated
// without replaying from the bus.
func (d *ClickHouseDeadLetter) Put(ctx context.Context, reason string, rows []Row) error {
	ctx, span := telemetry.StartSpan(ctx, "ClickHouseDeadLetter.Put")
	defer span.End()

	query := fmt.Sprintf(`INSERT INTO %s.dead_letter (id, received_at, reason, payload) VALUES (?, now64(3), ?, ?)`, d.database)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return classifyError(err)
	}
	defer stmt.Close()

	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			tx.Rollback()
			return err
		}
		d.nextID++
		if _, err := stmt.ExecContext(ctx, d.nextID, reason, string(payload)); err != nil {
			tx.Rollback()
			return classifyError(err)
		}
	}

	return tx.Commit()
}

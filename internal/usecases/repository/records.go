package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/autorenta/p2p-reconciler/internal/entities"
	"github.com/autorenta/p2p-reconciler/pkg/database"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var recordColumns = []string{
	"order_id", "flow", "state", "attempt_count", "manual_review",
	"first_seen_at", "last_updated_at", "result_note",
}

// RecordsRepository is the durable idempotency store. The table is
// append-mostly: rows are inserted once, mutated only under the order's
// processing lock, and never deleted, so operators can inspect and hand-edit
// it for manual recovery.
type RecordsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewRecordsRepository(logger *slog.Logger, pg *database.Postgres) *RecordsRepository {
	return &RecordsRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

func (r *RecordsRepository) Get(ctx context.Context, orderID string) (entities.ProcessingRecord, error) {
	query, args, err := psql.Select(recordColumns...).
		From("processing_records").
		Where(squirrel.Eq{"order_id": orderID}).
		ToSql()
	if err != nil {
		return entities.ProcessingRecord{}, fmt.Errorf("build get query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return entities.ProcessingRecord{}, storageErr("query record", err)
	}

	rec, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.ProcessingRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.ProcessingRecord{}, entities.ErrNotFound
	}
	if err != nil {
		return entities.ProcessingRecord{}, storageErr("collect record", err)
	}

	return rec, nil
}

// CreateIfAbsent is the sole insertion point. Atomic with respect to
// concurrent callers: exactly one of them observes created == true, the rest
// get the existing record unchanged.
func (r *RecordsRepository) CreateIfAbsent(ctx context.Context, orderID string, flow entities.Flow) (entities.ProcessingRecord, bool, error) {
	var rec entities.ProcessingRecord
	var created bool

	err := r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		query, args, err := psql.Insert("processing_records").
			Columns("order_id", "flow", "state").
			Values(orderID, flow, entities.RecordInProgress).
			Suffix("ON CONFLICT (order_id) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert query: %w", err)
		}

		tag, err := r.db(ctx).Exec(ctx, query, args...)
		if err != nil {
			return storageErr("insert record", err)
		}
		created = tag.RowsAffected() == 1

		rec, err = r.Get(ctx, orderID)
		return err
	})
	if err != nil {
		return entities.ProcessingRecord{}, false, err
	}

	return rec, created, nil
}

// Transition moves a record from one state to another with an optimistic
// from-state check; a mismatch yields ErrConflict, meaning another attempt
// already moved the record. Transitions into in_progress count an attempt.
// Succeeded records are immutable.
func (r *RecordsRepository) Transition(ctx context.Context, orderID string, from, to entities.RecordState, note string) error {
	if from == entities.RecordSucceeded {
		return fmt.Errorf("%w: succeeded records are immutable", entities.ErrConflict)
	}

	builder := psql.Update("processing_records").
		Set("state", to).
		Set("result_note", note).
		Set("last_updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"order_id": orderID, "state": from})

	if to == entities.RecordInProgress {
		builder = builder.Set("attempt_count", squirrel.Expr("attempt_count + 1"))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build transition query: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return storageErr("transition record", err)
	}

	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, orderID); errors.Is(getErr, entities.ErrNotFound) {
			return entities.ErrNotFound
		}
		return fmt.Errorf("%w: %s is no longer %s", entities.ErrConflict, orderID, from)
	}

	return nil
}

// MarkUnrecoverable parks an order as failed and flagged for manual review.
// Used for permanent skips: bad destinations, amounts above the single
// transfer cap, and orders that exhausted the attempt ceiling.
func (r *RecordsRepository) MarkUnrecoverable(ctx context.Context, orderID, note string) error {
	query, args, err := psql.Update("processing_records").
		Set("state", entities.RecordFailed).
		Set("manual_review", true).
		Set("result_note", note).
		Set("last_updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"order_id": orderID}).
		Where(squirrel.NotEq{"state": entities.RecordSucceeded}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark query: %w", err)
	}

	if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
		return storageErr("mark record unrecoverable", err)
	}
	return nil
}

// ResolveManually marks a record as succeeded out-of-band. This is the ops
// recovery path for orders settled by a human outside the daemon.
func (r *RecordsRepository) ResolveManually(ctx context.Context, orderID, note string) error {
	query, args, err := psql.Update("processing_records").
		Set("state", entities.RecordSucceeded).
		Set("manual_review", false).
		Set("result_note", note).
		Set("last_updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"order_id": orderID}).
		Where(squirrel.NotEq{"state": entities.RecordSucceeded}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build resolve query: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return storageErr("resolve record", err)
	}

	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, orderID); errors.Is(getErr, entities.ErrNotFound) {
			return entities.ErrNotFound
		}
		return fmt.Errorf("%w: %s already succeeded", entities.ErrConflict, orderID)
	}

	return nil
}

// List returns the most recently updated records for the audit surface.
func (r *RecordsRepository) List(ctx context.Context, limit int) ([]entities.ProcessingRecord, error) {
	query, args, err := psql.Select(recordColumns...).
		From("processing_records").
		OrderBy("last_updated_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query records", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.ProcessingRecord])
	if err != nil {
		return nil, storageErr("collect records", err)
	}

	return records, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(entities.ErrStorage, err))
}

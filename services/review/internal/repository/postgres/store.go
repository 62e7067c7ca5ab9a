package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/BookshelfGo/pkg/database"
	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
)

const lockBookQuery = `SELECT id FROM books WHERE id = $1 FOR UPDATE`

// Store implements repository.Store on PostgreSQL.
type Store struct {
	pool   database.DBTX
	txOpts database.TxOptions
}

// NewStore creates a PostgreSQL-backed store. txOpts bounds how often a
// book transaction is replayed after a deadlock or serialization failure.
func NewStore(pool database.DBTX, txOpts database.TxOptions) *Store {
	return &Store{pool: pool, txOpts: txOpts}
}

var _ repository.Store = (*Store)(nil)

// WithinBookTx locks the book row with SELECT ... FOR UPDATE and runs fn in
// the same transaction. Writers on one book serialize on the lock; writers
// on different books never contend.
func (s *Store) WithinBookTx(ctx context.Context, bookID string, fn func(tx repository.BookTx) error) error {
	return database.RunInTx(ctx, s.pool, s.txOpts, func(tx pgx.Tx) (err error) {
		ctx, end := database.TraceQuery(ctx, "LockBook", lockBookQuery)
		var locked string
		err = tx.QueryRow(ctx, lockBookQuery, bookID).Scan(&locked)
		end(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("book", bookID)
		}
		if err != nil {
			return fmt.Errorf("lock book %s: %w", bookID, err)
		}

		return fn(&bookTx{tx: tx})
	})
}

// bookTx runs writes on an open transaction.
type bookTx struct {
	tx pgx.Tx
}

var _ repository.BookTx = (*bookTx)(nil)

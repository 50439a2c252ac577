package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlib/circulation-service/circulation/internal/model"
)

//go:generate go run github.com/golang/mock/mockgen -source=ledger.go -destination=mocks/mock_ledger.go

// Ledger is the append-only audit trail. There is no update or delete path:
// entries survive book edits and deletion.
type Ledger interface {
	Append(ctx context.Context, tx model.Transaction) (model.Transaction, error)
	ListTransactions(ctx context.Context, bookID, userID string) ([]model.Transaction, error)
}

func (r *repository) Append(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	q, args, err := qb.Insert(transactionsTableName).
		Columns("id", "book_id", "book_title", "user_id", "user_name", "type", "due_date", "notes", "fine_amount", "created_at").
		Values(tx.ID, tx.BookID, tx.BookTitle, tx.UserID, tx.UserName, string(tx.Type), tx.DueDate, tx.Notes, tx.FineAmount, tx.Timestamp).
		Suffix("returning id, book_id, book_title, user_id, user_name, type, due_date, notes, fine_amount, created_at").
		ToSql()
	if err != nil {
		return model.Transaction{}, err
	}
	var res model.Transaction
	if err := r.db.GetContext(ctx, &res, q, args...); err != nil {
		r.log.Error("Append", zap.String("q", q), zap.Error(err))
		return model.Transaction{}, wrapDBErr(err)
	}
	return res, nil
}

// ListTransactions filters by book and/or user; created_at is the
// authoritative ordering key.
func (r *repository) ListTransactions(ctx context.Context, bookID, userID string) ([]model.Transaction, error) {
	builder := qb.Select("id", "book_id", "book_title", "user_id", "user_name", "type", "due_date", "notes", "fine_amount", "created_at").
		From(transactionsTableName).
		OrderBy("created_at asc", "id asc")
	if bookID != "" {
		builder = builder.Where(sq.Eq{"book_id": bookID})
	}
	if userID != "" {
		builder = builder.Where(sq.Eq{"user_id": userID})
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	var items []model.Transaction
	if err := r.db.SelectContext(ctx, &items, q, args...); err != nil {
		return nil, wrapDBErr(err)
	}
	return items, nil
}

package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/openlib/circulation-service/circulation/internal/errs"
	"github.com/openlib/circulation-service/circulation/internal/model"
)

//go:generate go run github.com/golang/mock/mockgen -source=stats.go -destination=mocks/mock_stats.go

// Stats is the Kafka-derived per-user circulation counters view.
type Stats interface {
	ApplyEvent(ctx context.Context, userID string, txType model.TransactionType) error
	GetUserStats(ctx context.Context, userID string) (model.UserStats, error)
}

func (r *repository) ApplyEvent(ctx context.Context, userID string, txType model.TransactionType) error {
	var column string
	switch txType {
	case model.TxIssue:
		column = "issued_count"
	case model.TxReturn:
		column = "returned_count"
	case model.TxRenewal:
		column = "renewed_count"
	case model.TxDonateRequest:
		column = "donated_count"
	default:
		return nil
	}
	q := `
	insert into circulation_stats (user_id, ` + column + `)
	values ($1, 1)
	on conflict (user_id) do update
	set ` + column + ` = circulation_stats.` + column + ` + 1, updated_at = now()`
	if _, err := r.db.ExecContext(ctx, q, userID); err != nil {
		return wrapDBErr(err)
	}
	return nil
}

func (r *repository) GetUserStats(ctx context.Context, userID string) (model.UserStats, error) {
	q := `
	select user_id, issued_count, returned_count, renewed_count, donated_count, updated_at
	from circulation_stats where user_id = $1`
	var stats model.UserStats
	if err := r.db.GetContext(ctx, &stats, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserStats{}, errors.Wrapf(errs.ErrNotFound, "stats for user %s", userID)
		}
		return model.UserStats{}, wrapDBErr(err)
	}
	return stats, nil
}

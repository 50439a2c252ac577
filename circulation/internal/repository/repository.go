package repository

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openlib/circulation-service/circulation/internal/errs"
	"github.com/openlib/circulation-service/circulation/internal/model"
)

//go:generate go run github.com/golang/mock/mockgen -source=repository.go -destination=mocks/mock.go

type Repository interface {
	CreateBook(ctx context.Context, book model.Book) (model.Book, error)
	GetBook(ctx context.Context, id string) (model.Book, error)
	UpdateBook(ctx context.Context, book model.Book, expectedStatus model.Status) (model.Book, error)
	EditBook(ctx context.Context, book model.Book) (model.Book, error)
	DeleteBook(ctx context.Context, id string) error
	DeletePendingDonation(ctx context.Context, id string) error
	ListBooks(ctx context.Context, filter model.BookFilter) ([]model.Book, error)
	ListAvailable(ctx context.Context, filter model.BookFilter) ([]model.Book, error)
	ListIssuedTo(ctx context.Context, userID string) ([]model.Book, error)
	ListPendingDonations(ctx context.Context) ([]model.Book, error)
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	booksTableName        = `books`
	transactionsTableName = `transactions`
	statsTableName        = `circulation_stats`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var bookColumns = []string{
	"id", "title", "author", "isbn", "category", "published_date", "description",
	"cover_image_url", "copies", "location", "status",
	"issue_user_id", "issue_user_name", "issue_date", "due_date",
	"donated_by_user_id", "donated_by_user_name", "donated_date",
	"created_at", "updated_at",
}

// bookRow is the flat table shape; sub-records are folded into nullable columns.
type bookRow struct {
	ID                string         `db:"id"`
	Title             string         `db:"title"`
	Author            string         `db:"author"`
	ISBN              string         `db:"isbn"`
	Category          string         `db:"category"`
	PublishedDate     string         `db:"published_date"`
	Description       string         `db:"description"`
	CoverImageURL     string         `db:"cover_image_url"`
	Copies            int            `db:"copies"`
	Location          string         `db:"location"`
	Status            string         `db:"status"`
	IssueUserID       sql.NullString `db:"issue_user_id"`
	IssueUserName     sql.NullString `db:"issue_user_name"`
	IssueDate         sql.NullTime   `db:"issue_date"`
	DueDate           sql.NullTime   `db:"due_date"`
	DonatedByUserID   sql.NullString `db:"donated_by_user_id"`
	DonatedByUserName sql.NullString `db:"donated_by_user_name"`
	DonatedDate       sql.NullTime   `db:"donated_date"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r bookRow) toModel() model.Book {
	b := model.Book{
		ID:            r.ID,
		Title:         r.Title,
		Author:        r.Author,
		ISBN:          r.ISBN,
		Category:      r.Category,
		PublishedDate: r.PublishedDate,
		Description:   r.Description,
		CoverImageURL: r.CoverImageURL,
		Copies:        r.Copies,
		Location:      r.Location,
		Status:        model.Status(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.IssueUserID.Valid {
		b.IssueDetails = &model.IssueDetails{
			UserID:    r.IssueUserID.String,
			UserName:  r.IssueUserName.String,
			IssueDate: r.IssueDate.Time,
			DueDate:   r.DueDate.Time,
		}
	}
	if r.DonatedByUserID.Valid {
		b.DonatedBy = &model.DonatedBy{
			UserID:   r.DonatedByUserID.String,
			UserName: r.DonatedByUserName.String,
			Date:     r.DonatedDate.Time,
		}
	}
	return b
}

func bookValues(b model.Book) map[string]interface{} {
	values := map[string]interface{}{
		"title":                b.Title,
		"author":               b.Author,
		"isbn":                 b.ISBN,
		"category":             b.Category,
		"published_date":       b.PublishedDate,
		"description":          b.Description,
		"cover_image_url":      b.CoverImageURL,
		"copies":               b.Copies,
		"location":             b.Location,
		"status":               string(b.Status),
		"issue_user_id":        nil,
		"issue_user_name":      nil,
		"issue_date":           nil,
		"due_date":             nil,
		"donated_by_user_id":   nil,
		"donated_by_user_name": nil,
		"donated_date":         nil,
		"updated_at":           sq.Expr("now()"),
	}
	if d := b.IssueDetails; d != nil {
		values["issue_user_id"] = d.UserID
		values["issue_user_name"] = d.UserName
		values["issue_date"] = d.IssueDate
		values["due_date"] = d.DueDate
	}
	if d := b.DonatedBy; d != nil {
		values["donated_by_user_id"] = d.UserID
		values["donated_by_user_name"] = d.UserName
		values["donated_date"] = d.Date
	}
	return values
}

func (r *repository) CreateBook(ctx context.Context, book model.Book) (model.Book, error) {
	values := bookValues(book)
	values["id"] = book.ID
	q, args, err := qb.Insert(booksTableName).
		SetMap(values).
		Suffix("returning " + columnList()).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var row bookRow
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		r.log.Error("CreateBook", zap.String("q", q), zap.Error(err))
		return model.Book{}, wrapDBErr(err)
	}
	return row.toModel(), nil
}

func (r *repository) GetBook(ctx context.Context, id string) (model.Book, error) {
	q, args, err := qb.Select(bookColumns...).
		From(booksTableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var row bookRow
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		return model.Book{}, wrapDBErr(err)
	}
	return row.toModel(), nil
}

// UpdateBook writes the new book state only if the stored status still equals
// expectedStatus. Losing the race yields ErrConcurrentModification with the
// current state re-read for the caller; it is never retried blindly here.
func (r *repository) UpdateBook(ctx context.Context, book model.Book, expectedStatus model.Status) (model.Book, error) {
	q, args, err := qb.Update(booksTableName).
		SetMap(bookValues(book)).
		Where(sq.Eq{"id": book.ID, "status": string(expectedStatus)}).
		Suffix("returning " + columnList()).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var row bookRow
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.loseRace(ctx, book.ID)
		}
		r.log.Error("UpdateBook", zap.String("q", q), zap.Error(err))
		return model.Book{}, wrapDBErr(err)
	}
	return row.toModel(), nil
}

func (r *repository) loseRace(ctx context.Context, id string) (model.Book, error) {
	current, err := r.GetBook(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Book{}, errors.Wrapf(errs.ErrNotFound, "book %s", id)
		}
		return model.Book{}, err
	}
	return model.Book{}, errors.Wrapf(errs.ErrConcurrentModification,
		"book %s is now %q", id, current.Status)
}

// EditBook is the administrative unconditional update.
func (r *repository) EditBook(ctx context.Context, book model.Book) (model.Book, error) {
	q, args, err := qb.Update(booksTableName).
		SetMap(bookValues(book)).
		Where(sq.Eq{"id": book.ID}).
		Suffix("returning " + columnList()).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var row bookRow
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errors.Wrapf(errs.ErrNotFound, "book %s", book.ID)
		}
		return model.Book{}, wrapDBErr(err)
	}
	return row.toModel(), nil
}

func (r *repository) DeleteBook(ctx context.Context, id string) error {
	q, args, err := qb.Delete(booksTableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDBErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Wrapf(errs.ErrNotFound, "book %s", id)
	}
	return nil
}

// DeletePendingDonation removes a donation candidate only while it is still
// pending; an approval racing ahead surfaces as ErrConcurrentModification.
func (r *repository) DeletePendingDonation(ctx context.Context, id string) error {
	q, args, err := qb.Delete(booksTableName).
		Where(sq.Eq{"id": id, "status": string(model.StatusDonatedPending)}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return wrapDBErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		_, err := r.loseRace(ctx, id)
		return err
	}
	return nil
}

func (r *repository) ListBooks(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	q := qb.Select(bookColumns...).
		From(booksTableName).
		OrderBy("lower(title) asc", "created_at asc")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	return r.selectBooks(ctx, applyTextFilter(q, filter))
}

// ListAvailable returns the lendable inventory ordered by title,
// case-insensitive, with insertion order as the tie-break.
func (r *repository) ListAvailable(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	q := qb.Select(bookColumns...).
		From(booksTableName).
		Where(sq.Eq{"status": []string{string(model.StatusAvailable), string(model.StatusDonatedApproved)}}).
		OrderBy("lower(title) asc", "created_at asc")
	return r.selectBooks(ctx, applyTextFilter(q, filter))
}

// ListIssuedTo orders by due date ascending so the most urgent loan comes
// first; equal due dates keep insertion order.
func (r *repository) ListIssuedTo(ctx context.Context, userID string) ([]model.Book, error) {
	q := qb.Select(bookColumns...).
		From(booksTableName).
		Where(sq.Eq{"status": string(model.StatusIssued), "issue_user_id": userID}).
		OrderBy("due_date asc", "created_at asc")
	return r.selectBooks(ctx, q)
}

func (r *repository) ListPendingDonations(ctx context.Context) ([]model.Book, error) {
	q := qb.Select(bookColumns...).
		From(booksTableName).
		Where(sq.Eq{"status": string(model.StatusDonatedPending)}).
		OrderBy("donated_date desc")
	return r.selectBooks(ctx, q)
}

func applyTextFilter(q sq.SelectBuilder, filter model.BookFilter) sq.SelectBuilder {
	if filter.Query != "" {
		pattern := "%" + filter.Query + "%"
		q = q.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"author": pattern},
			sq.ILike{"isbn": pattern},
		})
	}
	if filter.Category != "" {
		q = q.Where(sq.Eq{"category": filter.Category})
	}
	return q
}

func (r *repository) selectBooks(ctx context.Context, builder sq.SelectBuilder) ([]model.Book, error) {
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	var rows []bookRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		r.log.Error("selectBooks", zap.String("q", q), zap.Error(err))
		return nil, wrapDBErr(err)
	}
	books := make([]model.Book, 0, len(rows))
	for _, row := range rows {
		books = append(books, row.toModel())
	}
	return books, nil
}

func columnList() string {
	list := bookColumns[0]
	for _, c := range bookColumns[1:] {
		list += ", " + c
	}
	return list
}

func wrapDBErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation, pgErr.Code == pgerrcode.CheckViolation:
			return errors.Wrap(errs.ErrValidation, pgErr.Detail)
		case pgerrcode.IsConnectionException(pgErr.Code):
			return errors.Wrap(errs.ErrStoreUnavailable, pgErr.Message)
		}
	}
	return err
}

package handler

import (
	"context"

	"github.com/openlib/circulation-service/circulation/internal/model"
	"github.com/openlib/circulation-service/circulation/internal/service"
	"github.com/openlib/circulation-service/pkg/auth"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type CirculationService interface {
	CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error)
	IssueBook(ctx context.Context, bookID string, borrower model.Borrower) (model.Book, error)
	ReturnBook(ctx context.Context, bookID string) (model.Book, error)
	RenewBook(ctx context.Context, bookID string, caller auth.Caller) (model.Book, error)
	SubmitDonation(ctx context.Context, req model.CreateBookRequest, donor model.Borrower) (model.Book, error)
	ApproveDonation(ctx context.Context, bookID string) (model.Book, error)
	RejectDonation(ctx context.Context, bookID string) error
	EditBook(ctx context.Context, bookID string, patch model.BookPatch) (model.Book, error)
	DeleteBook(ctx context.Context, bookID string) error
	RecordFinePaid(ctx context.Context, bookID string, req model.FineRequest) (model.Transaction, error)
	GetBook(ctx context.Context, bookID string) (model.Book, error)
	ListBooks(ctx context.Context, filter model.BookFilter) ([]model.Book, error)
	ListAvailable(ctx context.Context, filter model.BookFilter) ([]model.Book, error)
	ListIssuedTo(ctx context.Context, userID string) ([]model.IssuedBook, error)
	ListPendingDonations(ctx context.Context) ([]model.Book, error)
	ListTransactions(ctx context.Context, bookID, userID string) ([]model.Transaction, error)
	BookHistory(ctx context.Context, bookID string) (model.BookHistory, error)
	UserStats(ctx context.Context, userID string) (model.UserStats, error)
}

var _ CirculationService = (*service.Service)(nil)

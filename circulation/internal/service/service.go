package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openlib/circulation-service/circulation/internal/errs"
	"github.com/openlib/circulation-service/circulation/internal/model"
	"github.com/openlib/circulation-service/circulation/internal/repository"
	"github.com/openlib/circulation-service/pkg/auth"
	"github.com/openlib/circulation-service/pkg/kafka"
)

// Service is the circulation engine: the state machine over Book.Status and
// the append-only ledger kept consistent with it. Every mutating operation is
// read-validate-write with a status compare-and-set in the repository; a lost
// race surfaces as ErrConcurrentModification, never a silent overwrite.
type Service struct {
	log      *zap.Logger
	repo     repository.Repository
	ledger   repository.Ledger
	stats    repository.Stats
	producer sarama.SyncProducer
	now      func() time.Time
}

func NewService(repo repository.Repository, ledger repository.Ledger, stats repository.Stats, producer sarama.SyncProducer, log *zap.Logger) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		ledger:   ledger,
		stats:    stats,
		producer: producer,
		now:      time.Now,
	}
}

func (s *Service) CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error) {
	book := newBook(req)
	book.Status = model.StatusAvailable
	return s.repo.CreateBook(ctx, book)
}

// IssueBook hands an available or donation-approved book to the borrower for
// a fixed 14-day loan. Issuing clears any donor provenance.
func (s *Service) IssueBook(ctx context.Context, bookID string, borrower model.Borrower) (model.Book, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.Book{}, errors.Wrapf(err, "book %s", bookID)
	}
	if !book.Status.Issuable() {
		return model.Book{}, errors.Wrapf(errs.ErrInvalidState, "issue book %s in status %q", bookID, book.Status)
	}
	observed := book.Status
	now := s.now().UTC()
	book.Status = model.StatusIssued
	book.IssueDetails = &model.IssueDetails{
		UserID:    borrower.ID,
		UserName:  borrower.Name,
		IssueDate: now,
		DueDate:   now.AddDate(0, 0, loanPeriodDays),
	}
	book.DonatedBy = nil

	updated, err := s.repo.UpdateBook(ctx, book, observed)
	if err != nil {
		return model.Book{}, err
	}
	dueDate := updated.IssueDetails.DueDate
	return updated, s.appendLedger(ctx, model.Transaction{
		BookID:    updated.ID,
		BookTitle: updated.Title,
		UserID:    borrower.ID,
		UserName:  borrower.Name,
		Type:      model.TxIssue,
		DueDate:   &dueDate,
	})
}

// ReturnBook puts an issued book back into the available pool and drops the
// issue details entirely.
func (s *Service) ReturnBook(ctx context.Context, bookID string) (model.Book, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.Book{}, errors.Wrapf(err, "book %s", bookID)
	}
	if book.Status != model.StatusIssued {
		return model.Book{}, errors.Wrapf(errs.ErrInvalidState, "return book %s in status %q", bookID, book.Status)
	}
	borrower := model.Borrower{ID: book.IssueDetails.UserID, Name: book.IssueDetails.UserName}
	book.Status = model.StatusAvailable
	book.IssueDetails = nil

	updated, err := s.repo.UpdateBook(ctx, book, model.StatusIssued)
	if err != nil {
		return model.Book{}, err
	}
	return updated, s.appendLedger(ctx, model.Transaction{
		BookID:    updated.ID,
		BookTitle: updated.Title,
		UserID:    borrower.ID,
		UserName:  borrower.Name,
		Type:      model.TxReturn,
	})
}

// RenewBook extends the due date by 7 days counted from the current due date,
// not from "now": renewing early keeps the remaining slack. Only the current
// borrower or an admin may renew, and only while the book is not yet overdue
// (due exactly today still qualifies).
func (s *Service) RenewBook(ctx context.Context, bookID string, caller auth.Caller) (model.Book, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.Book{}, errors.Wrapf(err, "book %s", bookID)
	}
	if book.Status != model.StatusIssued {
		return model.Book{}, errors.Wrapf(errs.ErrInvalidState, "renew book %s in status %q", bookID, book.Status)
	}
	if !caller.IsAdmin() && caller.ID != book.IssueDetails.UserID {
		return model.Book{}, errors.Wrapf(errs.ErrPermission, "book %s is issued to another user", bookID)
	}
	if !renewable(book.IssueDetails.DueDate, s.now()) {
		return model.Book{}, errors.Wrapf(errs.ErrRenewalNotAllowed, "book %s was due %s",
			bookID, book.IssueDetails.DueDate.Format(time.DateOnly))
	}
	oldDue := book.IssueDetails.DueDate
	newDue := oldDue.AddDate(0, 0, renewalPeriodDays)
	book.IssueDetails.DueDate = newDue

	updated, err := s.repo.UpdateBook(ctx, book, model.StatusIssued)
	if err != nil {
		return model.Book{}, err
	}
	return updated, s.appendLedger(ctx, model.Transaction{
		BookID:    updated.ID,
		BookTitle: updated.Title,
		UserID:    book.IssueDetails.UserID,
		UserName:  book.IssueDetails.UserName,
		Type:      model.TxRenewal,
		DueDate:   &newDue,
		Notes:     fmt.Sprintf("due date extended: %s -> %s", oldDue.Format(time.DateOnly), newDue.Format(time.DateOnly)),
	})
}

// SubmitDonation creates a new book awaiting approval, stamped with the donor.
func (s *Service) SubmitDonation(ctx context.Context, req model.CreateBookRequest, donor model.Borrower) (model.Book, error) {
	book := newBook(req)
	book.Status = model.StatusDonatedPending
	book.DonatedBy = &model.DonatedBy{
		UserID:   donor.ID,
		UserName: donor.Name,
		Date:     s.now().UTC(),
	}
	created, err := s.repo.CreateBook(ctx, book)
	if err != nil {
		return model.Book{}, err
	}
	return created, s.appendLedger(ctx, model.Transaction{
		BookID:    created.ID,
		BookTitle: created.Title,
		UserID:    donor.ID,
		UserName:  donor.Name,
		Type:      model.TxDonateRequest,
	})
}

// ApproveDonation moves a pending donation into the lendable inventory.
// The donor stamp stays on the book as provenance.
func (s *Service) ApproveDonation(ctx context.Context, bookID string) (model.Book, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.Book{}, errors.Wrapf(err, "book %s", bookID)
	}
	if book.Status != model.StatusDonatedPending {
		return model.Book{}, errors.Wrapf(errs.ErrInvalidState, "approve donation of book %s in status %q", bookID, book.Status)
	}
	book.Status = model.StatusDonatedApproved

	updated, err := s.repo.UpdateBook(ctx, book, model.StatusDonatedPending)
	if err != nil {
		return model.Book{}, err
	}
	return updated, s.appendLedger(ctx, model.Transaction{
		BookID:    updated.ID,
		BookTitle: updated.Title,
		UserID:    updated.DonatedBy.UserID,
		UserName:  updated.DonatedBy.UserName,
		Type:      model.TxDonateApprove,
	})
}

// RejectDonation removes the pending book outright; the ledger entry with the
// denormalized title is the only durable trace of the submission.
func (s *Service) RejectDonation(ctx context.Context, bookID string) error {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return errors.Wrapf(err, "book %s", bookID)
	}
	if book.Status != model.StatusDonatedPending {
		return errors.Wrapf(errs.ErrInvalidState, "reject donation of book %s in status %q", bookID, book.Status)
	}
	if err := s.repo.DeletePendingDonation(ctx, bookID); err != nil {
		return err
	}
	return s.appendLedger(ctx, model.Transaction{
		BookID:    book.ID,
		BookTitle: book.Title,
		UserID:    book.DonatedBy.UserID,
		UserName:  book.DonatedBy.UserName,
		Type:      model.TxDonateReject,
		Notes:     "donation rejected",
	})
}

// EditBook is the administrative correction path. Metadata changes never
// touch the status; an explicit status change clears whichever sub-record is
// no longer applicable so the status/sub-record agreement holds.
func (s *Service) EditBook(ctx context.Context, bookID string, patch model.BookPatch) (model.Book, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.Book{}, errors.Wrapf(err, "book %s", bookID)
	}
	applyPatch(&book, patch)
	if patch.Status != nil {
		newStatus := *patch.Status
		if !newStatus.Valid() {
			return model.Book{}, errors.Wrapf(errs.ErrValidation, "unknown status %q", newStatus)
		}
		book.Status = newStatus
		if newStatus != model.StatusIssued {
			book.IssueDetails = nil
		}
		if !newStatus.Donated() {
			book.DonatedBy = nil
		}
	}
	if err := book.Validate(); err != nil {
		return model.Book{}, errors.Wrap(errs.ErrValidation, err.Error())
	}
	return s.repo.EditBook(ctx, book)
}

// DeleteBook hard-deletes the record; ledger history is untouched.
func (s *Service) DeleteBook(ctx context.Context, bookID string) error {
	return s.repo.DeleteBook(ctx, bookID)
}

// RecordFinePaid appends a fine_paid ledger entry; no book state changes.
func (s *Service) RecordFinePaid(ctx context.Context, bookID string, req model.FineRequest) (model.Transaction, error) {
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return model.Transaction{}, errors.Wrapf(err, "book %s", bookID)
	}
	entry, err := s.ledger.Append(ctx, model.Transaction{
		BookID:     book.ID,
		BookTitle:  book.Title,
		UserID:     req.UserID,
		UserName:   req.UserName,
		Type:       model.TxFinePaid,
		Notes:      req.Notes,
		FineAmount: &req.Amount,
		Timestamp:  s.now().UTC(),
	})
	if err != nil {
		return model.Transaction{}, err
	}
	s.publish(entry)
	return entry, nil
}

func (s *Service) GetBook(ctx context.Context, bookID string) (model.Book, error) {
	return s.repo.GetBook(ctx, bookID)
}

func (s *Service) ListBooks(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	return s.repo.ListBooks(ctx, filter)
}

func (s *Service) ListAvailable(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	return s.repo.ListAvailable(ctx, filter)
}

// ListIssuedTo annotates each loan with its due status, ordered soonest-due
// first by the repository.
func (s *Service) ListIssuedTo(ctx context.Context, userID string) ([]model.IssuedBook, error) {
	books, err := s.repo.ListIssuedTo(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	issued := make([]model.IssuedBook, 0, len(books))
	for _, book := range books {
		issued = append(issued, model.IssuedBook{
			Book:      book,
			DueStatus: ClassifyDueStatus(book.IssueDetails.DueDate, now),
		})
	}
	return issued, nil
}

func (s *Service) ListPendingDonations(ctx context.Context) ([]model.Book, error) {
	return s.repo.ListPendingDonations(ctx)
}

func (s *Service) ListTransactions(ctx context.Context, bookID, userID string) ([]model.Transaction, error) {
	return s.ledger.ListTransactions(ctx, bookID, userID)
}

// BookHistory fetches the current state and the full ledger trail in parallel.
func (s *Service) BookHistory(ctx context.Context, bookID string) (model.BookHistory, error) {
	var history model.BookHistory
	gg, ctx := errgroup.WithContext(ctx)
	gg.Go(func() error {
		book, err := s.repo.GetBook(ctx, bookID)
		if err != nil {
			return errors.Wrapf(err, "book %s", bookID)
		}
		history.Book = book
		return nil
	})
	gg.Go(func() error {
		txs, err := s.ledger.ListTransactions(ctx, bookID, "")
		if err != nil {
			return err
		}
		history.Transactions = txs
		return nil
	})
	if err := gg.Wait(); err != nil {
		return model.BookHistory{}, err
	}
	return history, nil
}

func (s *Service) UserStats(ctx context.Context, userID string) (model.UserStats, error) {
	return s.stats.GetUserStats(ctx, userID)
}

// ApplyStatsEvent is the Kafka consumer path updating the counters view.
func (s *Service) ApplyStatsEvent(ctx context.Context, event kafka.CirculationEvent) error {
	return s.stats.ApplyEvent(ctx, event.UserID, model.TransactionType(event.Type))
}

// appendLedger records the transaction after a successful state write. The
// state change already landed, so a failed append is reported to the caller
// as ErrLedgerAppend for operator reconciliation, not as operation failure.
func (s *Service) appendLedger(ctx context.Context, tx model.Transaction) error {
	tx.Timestamp = s.now().UTC()
	entry, err := s.ledger.Append(ctx, tx)
	if err != nil {
		s.log.Warn("ledger append failed",
			zap.String("bookId", tx.BookID),
			zap.String("type", string(tx.Type)),
			zap.Error(err))
		return errors.Wrapf(errs.ErrLedgerAppend, "%s for book %s", tx.Type, tx.BookID)
	}
	s.publish(entry)
	return nil
}

// publish fans the ledger entry out to Kafka for the stats consumer.
// Best effort: a broker hiccup is logged and never fails the operation.
func (s *Service) publish(tx model.Transaction) {
	if s.producer == nil {
		return
	}
	event := kafka.CirculationEvent{
		BookID:    tx.BookID,
		BookTitle: tx.BookTitle,
		UserID:    tx.UserID,
		UserName:  tx.UserName,
		Type:      string(tx.Type),
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error("marshal event", zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{Topic: kafka.CirculationTopic, Value: sarama.StringEncoder(data)}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.log.Warn("publish event", zap.String("type", string(tx.Type)), zap.Error(err))
	}
}

func newBook(req model.CreateBookRequest) model.Book {
	copies := req.Copies
	if copies == 0 {
		copies = 1
	}
	return model.Book{
		ID:            uuid.NewString(),
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Category:      req.Category,
		PublishedDate: req.PublishedDate,
		Description:   req.Description,
		CoverImageURL: req.CoverImageURL,
		Copies:        copies,
		Location:      req.Location,
	}
}

func applyPatch(book *model.Book, patch model.BookPatch) {
	if patch.Title != nil {
		book.Title = *patch.Title
	}
	if patch.Author != nil {
		book.Author = *patch.Author
	}
	if patch.ISBN != nil {
		book.ISBN = *patch.ISBN
	}
	if patch.Category != nil {
		book.Category = *patch.Category
	}
	if patch.PublishedDate != nil {
		book.PublishedDate = *patch.PublishedDate
	}
	if patch.Description != nil {
		book.Description = *patch.Description
	}
	if patch.CoverImageURL != nil {
		book.CoverImageURL = *patch.CoverImageURL
	}
	if patch.Copies != nil {
		book.Copies = *patch.Copies
	}
	if patch.Location != nil {
		book.Location = *patch.Location
	}
}

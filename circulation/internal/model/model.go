package model

import (
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusAvailable       Status = "available"
	StatusIssued          Status = "issued"
	StatusDonatedPending  Status = "donated_pending_approval"
	StatusDonatedApproved Status = "donated_approved"
	StatusLost            Status = "lost"
	StatusMaintenance     Status = "maintenance"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusIssued, StatusDonatedPending, StatusDonatedApproved, StatusLost, StatusMaintenance:
		return true
	}
	return false
}

// Issuable reports whether a book in this status may be handed to a borrower.
// Approved donations are part of the lendable inventory.
func (s Status) Issuable() bool {
	return s == StatusAvailable || s == StatusDonatedApproved
}

func (s Status) Donated() bool {
	return s == StatusDonatedPending || s == StatusDonatedApproved
}

// IssueDetails is present iff the book is issued.
type IssueDetails struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	IssueDate time.Time `json:"issueDate"`
	DueDate   time.Time `json:"dueDate"`
}

// DonatedBy is present iff the book went through donation intake.
// It survives approval as provenance and is erased only by deletion.
type DonatedBy struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Date     time.Time `json:"date"`
}

type Book struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Author        string        `json:"author"`
	ISBN          string        `json:"isbn"`
	Category      string        `json:"category,omitempty"`
	PublishedDate string        `json:"publishedDate,omitempty"`
	Description   string        `json:"description,omitempty"`
	CoverImageURL string        `json:"coverImageUrl,omitempty"`
	Copies        int           `json:"copies,omitempty"`
	Location      string        `json:"location,omitempty"`
	Status        Status        `json:"status"`
	IssueDetails  *IssueDetails `json:"issueDetails,omitempty"`
	DonatedBy     *DonatedBy    `json:"donatedBy,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Validate enforces the status/sub-record agreement: issued books carry
// issue details with dueDate after issueDate, donated books carry the donor
// stamp, and the two sub-records are never set at once.
func (b *Book) Validate() error {
	if !b.Status.Valid() {
		return errors.Errorf("book %s: unknown status %q", b.ID, b.Status)
	}
	if b.IssueDetails != nil && b.DonatedBy != nil {
		return errors.Errorf("book %s: issueDetails and donatedBy are both set", b.ID)
	}
	if b.Status == StatusIssued {
		if b.IssueDetails == nil {
			return errors.Errorf("book %s: issued without issueDetails", b.ID)
		}
		if !b.IssueDetails.DueDate.After(b.IssueDetails.IssueDate) {
			return errors.Errorf("book %s: dueDate is not after issueDate", b.ID)
		}
	} else if b.IssueDetails != nil {
		return errors.Errorf("book %s: issueDetails set in status %q", b.ID, b.Status)
	}
	if b.Status.Donated() {
		if b.DonatedBy == nil {
			return errors.Errorf("book %s: donated status without donatedBy", b.ID)
		}
	} else if b.DonatedBy != nil {
		return errors.Errorf("book %s: donatedBy set in status %q", b.ID, b.Status)
	}
	return nil
}

type TransactionType string

const (
	TxIssue         TransactionType = "issue"
	TxReturn        TransactionType = "return"
	TxDonateRequest TransactionType = "donate_request"
	TxDonateApprove TransactionType = "donate_approve"
	TxDonateReject  TransactionType = "donate_reject"
	TxRenewal       TransactionType = "renewal"
	TxFinePaid      TransactionType = "fine_paid"
)

// Transaction is an append-only ledger entry. BookTitle is a snapshot taken
// at write time, so history survives book edits and deletion.
type Transaction struct {
	ID         string          `json:"id" db:"id"`
	BookID     string          `json:"bookId" db:"book_id"`
	BookTitle  string          `json:"bookTitle" db:"book_title"`
	UserID     string          `json:"userId" db:"user_id"`
	UserName   string          `json:"userName" db:"user_name"`
	Type       TransactionType `json:"type" db:"type"`
	Timestamp  time.Time       `json:"timestamp" db:"created_at"`
	DueDate    *time.Time      `json:"dueDate,omitempty" db:"due_date"`
	Notes      string          `json:"notes,omitempty" db:"notes"`
	FineAmount *float64        `json:"fineAmount,omitempty" db:"fine_amount"`
}

// Borrower identifies the user a circulation event is attributed to.
type Borrower struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DueStatus string

const (
	DueStatusOverdue DueStatus = "overdue"
	DueStatusDueSoon DueStatus = "due_soon"
	DueStatusNormal  DueStatus = "normal"
)

// IssuedBook annotates an issued book with its temporal due status.
type IssuedBook struct {
	Book
	DueStatus DueStatus `json:"dueStatus"`
}

type BookHistory struct {
	Book         Book          `json:"book"`
	Transactions []Transaction `json:"transactions"`
}

type UserStats struct {
	UserID        string    `json:"userId" db:"user_id"`
	IssuedCount   int       `json:"issuedCount" db:"issued_count"`
	ReturnedCount int       `json:"returnedCount" db:"returned_count"`
	RenewedCount  int       `json:"renewedCount" db:"renewed_count"`
	DonatedCount  int       `json:"donatedCount" db:"donated_count"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

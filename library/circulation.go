package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DefaultLoanPeriodDays is used when neither the caller nor the configuration
// picks a loan period.
const DefaultLoanPeriodDays = 14

// Circulation is the only writer of the ledger and of available copy counts.
// Every mutation of a book runs under that book's lock inside one SQLite
// transaction, so a checkout or return either fully commits or leaves no trace.
type Circulation struct {
	deps
	catalog        *Catalog
	loanPeriodDays int
}

// Checkout lends one copy of bookID to memberID for loanDays days. A
// non-positive loanDays uses the configured loan period. The new loan comes
// back with its status, book and member resolved.
func (c *Circulation) Checkout(ctx context.Context, bookID, memberID string, loanDays int) (*Loan, error) {
	bookID, memberID = strings.TrimSpace(bookID), strings.TrimSpace(memberID)
	if bookID == "" {
		return nil, invalidField("book_id", "is required")
	}
	if memberID == "" {
		return nil, invalidField("member_id", "is required")
	}
	if loanDays <= 0 {
		loanDays = c.loanPeriodDays
	}

	unlock := c.locks.lock(bookID)
	defer unlock()

	var loan *Loan
	err := c.retry.do(ctx, func(ctx context.Context) error {
		return c.db.inTx(ctx, func(tx *sqlx.Tx) error {
			book, err := c.db.GetBook(ctx, tx, bookID)
			if err != nil {
				return err
			}
			if book.AvailableCopies <= 0 {
				return fmt.Errorf("book %q: %w", book.Title, ErrOutOfStock)
			}
			member, err := c.db.GetMember(ctx, tx, memberID)
			if err != nil {
				return err
			}
			held, err := c.db.HasActiveLoan(ctx, tx, bookID, memberID)
			if err != nil {
				return err
			}
			if held {
				return fmt.Errorf("member %s already has book %q: %w", memberID, book.Title, ErrConflict)
			}

			taken, err := c.db.TakeCopy(ctx, tx, bookID)
			if err != nil {
				return err
			}
			if !taken {
				return fmt.Errorf("book %s: no copy to take with %d available: %w",
					bookID, book.AvailableCopies, ErrInvariantViolation)
			}

			now := c.now().UTC()
			t := &Transaction{
				ID:           uuid.NewString(),
				BookID:       bookID,
				MemberID:     memberID,
				CheckoutDate: now,
				DueDate:      now.Add(time.Duration(loanDays) * 24 * time.Hour),
			}
			if err := c.db.InsertTransaction(ctx, tx, t); err != nil {
				return err
			}
			book.AvailableCopies--
			l := newLoan(*t, now)
			l.Book, l.Member = book, member
			loan = &l
			return nil
		})
	})
	if err != nil {
		c.logFailure("checkout failed", err, "book_id", bookID, "member_id", memberID)
		return nil, err
	}

	c.log.Info("book checked out",
		"transaction_id", loan.ID, "book_id", bookID, "member_id", memberID, "due_date", loan.DueDate)
	return loan, nil
}

// ReturnBook closes an active loan and puts the copy back on the shelf.
// Returning the same transaction twice fails with ErrAlreadyReturned.
func (c *Circulation) ReturnBook(ctx context.Context, transactionID string) (*Loan, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, invalidField("transaction_id", "is required")
	}

	t, err := c.db.GetTransaction(ctx, c.db.db, transactionID)
	if err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, ErrAlreadyReturned)
	}

	unlock := c.locks.lock(t.BookID)
	defer unlock()

	var returned *Loan
	err = c.retry.do(ctx, func(ctx context.Context) error {
		return c.db.inTx(ctx, func(tx *sqlx.Tx) error {
			current, err := c.db.GetTransaction(ctx, tx, transactionID)
			if err != nil {
				return err
			}
			at := c.now().UTC()
			marked, err := c.db.MarkReturned(ctx, tx, transactionID, at)
			if err != nil {
				return err
			}
			if !marked {
				return fmt.Errorf("transaction %s: %w", transactionID, ErrAlreadyReturned)
			}

			put, err := c.db.PutBackCopy(ctx, tx, current.BookID)
			if err != nil {
				return err
			}
			if !put {
				return fmt.Errorf("book %s: available copies already at total: %w",
					current.BookID, ErrInvariantViolation)
			}

			book, err := c.db.GetBook(ctx, tx, current.BookID)
			if err != nil {
				return err
			}
			member, err := c.db.GetMember(ctx, tx, current.MemberID)
			if err != nil {
				return err
			}

			current.ReturnDate = &at
			l := newLoan(*current, at)
			l.Book, l.Member = book, member
			returned = &l
			return nil
		})
	})
	if err != nil {
		c.logFailure("return failed", err, "transaction_id", transactionID, "book_id", t.BookID)
		return nil, err
	}

	c.log.Info("book returned",
		"transaction_id", transactionID, "book_id", returned.BookID, "member_id", returned.MemberID)
	return returned, nil
}

// Restock moves the total stock of a book by delta under the book lock.
func (c *Circulation) Restock(ctx context.Context, bookID string, delta int) (*Book, error) {
	b, err := c.catalog.AdjustTotalCopies(ctx, bookID, delta)
	if err != nil && !errors.Is(err, ErrInvariantViolation) {
		c.log.Debug("restock failed", "book_id", bookID, "delta", delta, "error", err)
	}
	return b, err
}

// Get returns one ledger entry with its derived status, book and member.
func (c *Circulation) Get(ctx context.Context, transactionID string) (*Loan, error) {
	rows, err := c.db.ListLoanRows(ctx, TransactionFilter{ID: transactionID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("transaction", transactionID)
	}
	loan := c.annotate(rows[0], c.now())
	return &loan, nil
}

// ListActive returns every unreturned loan, annotated with its overdue state
// as of now.
func (c *Circulation) ListActive(ctx context.Context) ([]Loan, error) {
	return c.ListAll(ctx, TransactionFilter{Status: StatusFilterActive})
}

// ListAll returns a snapshot of the lending history, newest first.
func (c *Circulation) ListAll(ctx context.Context, f TransactionFilter) ([]Loan, error) {
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	switch f.Status {
	case "", StatusFilterActive, string(StatusBorrowed), string(StatusOverdue), string(StatusReturned):
	default:
		return nil, invalidField("status", "must be one of active, borrowed, overdue, returned")
	}

	rows, err := c.db.ListLoanRows(ctx, f)
	if err != nil {
		return nil, err
	}

	now := c.now()
	loans := make([]Loan, 0, len(rows))
	for _, row := range rows {
		loan := c.annotate(row, now)
		if (f.Status == string(StatusBorrowed) || f.Status == string(StatusOverdue)) &&
			string(loan.Status) != f.Status {
			continue
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

func (c *Circulation) annotate(row loanRow, now time.Time) Loan {
	loan := newLoan(row.Transaction, now)
	loan.Book = row.book()
	loan.Member = row.member()
	return loan
}

// logFailure logs broken invariants loudly; expected domain errors stay at debug.
func (c *Circulation) logFailure(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if errors.Is(err, ErrInvariantViolation) {
		c.log.Error(msg, args...)
		return
	}
	c.log.Debug(msg, args...)
}

package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// NewBook is the input for registering or updating a catalog entry.
type NewBook struct {
	Title       string `json:"title" validate:"required"`
	Author      string `json:"author" validate:"required"`
	ISBN        string `json:"isbn" validate:"required"`
	Genre       string `json:"genre" validate:"required"`
	TotalCopies int    `json:"total_copies" validate:"min=1"`
	Description string `json:"description"`
}

func (in *NewBook) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Genre = strings.TrimSpace(in.Genre)
	in.Description = strings.TrimSpace(in.Description)
}

// Catalog holds book records and their copy counts. It knows nothing about
// the ledger; lent copies are read off total minus available.
type Catalog struct {
	deps
}

// Register adds a title with all copies on the shelf.
func (c *Catalog) Register(ctx context.Context, in NewBook) (*Book, error) {
	in.normalize()
	if err := validate.Struct(&in); err != nil {
		return nil, fromValidator(err)
	}

	b := &Book{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Author:          in.Author,
		ISBN:            in.ISBN,
		Genre:           in.Genre,
		Description:     in.Description,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		CreatedAt:       c.now().UTC(),
	}
	if err := c.db.AddBook(ctx, b); err != nil {
		return nil, fmt.Errorf("register book: %w", err)
	}
	c.log.Info("book registered", "book_id", b.ID, "title", b.Title, "copies", b.TotalCopies)
	return b, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*Book, error) {
	return c.db.GetBook(ctx, c.db.db, id)
}

// List returns a snapshot of the catalog taken at call time.
func (c *Catalog) List(ctx context.Context, f BookFilter) ([]Book, error) {
	f.Query = strings.TrimSpace(f.Query)
	f.Genre = strings.TrimSpace(f.Genre)
	return c.db.ListBooks(ctx, f)
}

// AdjustTotalCopies restocks (delta > 0) or retires (delta < 0) copies. It
// serializes with checkouts and returns of the same book.
func (c *Catalog) AdjustTotalCopies(ctx context.Context, id string, delta int) (*Book, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	var book *Book
	err := c.retry.do(ctx, func(ctx context.Context) error {
		return c.db.inTx(ctx, func(tx *sqlx.Tx) error {
			b, err := c.adjust(ctx, tx, id, delta)
			book = b
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("book copies adjusted", "book_id", id, "delta", delta, "total_copies", book.TotalCopies)
	return book, nil
}

// Update rewrites the descriptive fields and, when TotalCopies changed, moves
// the stock by the difference in the same transaction.
func (c *Catalog) Update(ctx context.Context, id string, in NewBook) (*Book, error) {
	in.normalize()
	if err := validate.Struct(&in); err != nil {
		return nil, fromValidator(err)
	}

	unlock := c.locks.lock(id)
	defer unlock()

	var book *Book
	err := c.retry.do(ctx, func(ctx context.Context) error {
		return c.db.inTx(ctx, func(tx *sqlx.Tx) error {
			current, err := c.db.GetBook(ctx, tx, id)
			if err != nil {
				return err
			}
			current.Title, current.Author, current.ISBN = in.Title, in.Author, in.ISBN
			current.Genre, current.Description = in.Genre, in.Description
			if err := c.db.UpdateBookDetails(ctx, tx, current); err != nil {
				return err
			}
			book = current
			if delta := in.TotalCopies - current.TotalCopies; delta != 0 {
				book, err = c.adjust(ctx, tx, id, delta)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// Delete retires a title from the catalog. Books with copies out on loan
// cannot be deleted.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	unlock := c.locks.lock(id)
	defer unlock()

	return c.retry.do(ctx, func(ctx context.Context) error {
		return c.db.inTx(ctx, func(tx *sqlx.Tx) error {
			b, err := c.db.GetBook(ctx, tx, id)
			if err != nil {
				return err
			}
			if n := b.LentCopies(); n > 0 {
				return fmt.Errorf("book %s has %d copies on loan: %w", id, n, ErrConflict)
			}
			return c.db.DeleteBook(ctx, tx, id, c.now().UTC())
		})
	})
}

// adjust must run under the book lock inside tx.
func (c *Catalog) adjust(ctx context.Context, tx *sqlx.Tx, id string, delta int) (*Book, error) {
	b, err := c.db.GetBook(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return b, nil
	}

	total := b.TotalCopies + delta
	if lent := b.LentCopies(); total < lent {
		c.log.Error("copy adjustment would retire lent copies",
			"book_id", id, "delta", delta, "total_copies", total, "lent_copies", lent)
		return nil, fmt.Errorf("book %s: total copies %d below %d on loan: %w", id, total, lent, ErrInvariantViolation)
	}
	if total < 1 {
		return nil, invalidField("total_copies", "must be at least 1")
	}

	ok, err := c.db.AdjustCopies(ctx, tx, id, delta)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.log.Error("copy adjustment rejected by store", "book_id", id, "delta", delta)
		return nil, fmt.Errorf("book %s: adjust by %d: %w", id, delta, ErrInvariantViolation)
	}

	b.TotalCopies = total
	b.AvailableCopies += delta
	return b, nil
}

package library

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Logger is the structured logger the library writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// deps is what every component shares: one store, one lock table, one clock.
type deps struct {
	db    *Database
	locks *bookLocks
	now   func() time.Time
	log   Logger
	retry retryPolicy
}

// LibraryManager is a thin façade over the catalog, the roster and the
// circulation engine, keeping CLI and HTTP code simple.
type LibraryManager struct {
	db *Database

	Catalog     *Catalog
	Roster      *Roster
	Circulation *Circulation
	Stats       *StatsAggregator
}

// Option configures NewLibraryManager.
type Option func(*managerOptions) error

type managerOptions struct {
	loanPeriodDays int
	maxAttempts    int
	baseDelay      time.Duration
	busyTimeout    time.Duration
	now            func() time.Time
	log            Logger
}

// WithLoanPeriod sets the default number of days a checkout lasts.
func WithLoanPeriod(days int) Option {
	return func(o *managerOptions) error {
		if days <= 0 {
			return fmt.Errorf("loan period must be positive, got %d", days)
		}
		o.loanPeriodDays = days
		return nil
	}
}

// WithRetry sets how often a write is attempted when SQLite stays busy.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *managerOptions) error {
		if _, err := newRetryPolicy(maxAttempts, baseDelay); err != nil {
			return err
		}
		o.maxAttempts, o.baseDelay = maxAttempts, baseDelay
		return nil
	}
}

// WithBusyTimeout is passed through to the database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *managerOptions) error {
		o.busyTimeout = d
		return nil
	}
}

// WithClock replaces time.Now. Tests use it to move through due dates.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		o.now = now
		return nil
	}
}

func WithLogger(l Logger) Option {
	return func(o *managerOptions) error {
		if l != nil {
			o.log = l
		}
		return nil
	}
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath and wires
// the components on top of it.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	o := managerOptions{
		loanPeriodDays: DefaultLoanPeriodDays,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		now:            time.Now,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	retry, err := newRetryPolicy(o.maxAttempts, o.baseDelay)
	if err != nil {
		return nil, err
	}

	db, err := NewDatabase(dbPath, WithDatabaseBusyTimeout(o.busyTimeout))
	if err != nil {
		return nil, err
	}

	shared := deps{db: db, locks: newBookLocks(), now: o.now, log: o.log, retry: retry}
	catalog := &Catalog{deps: shared}
	return &LibraryManager{
		db:          db,
		Catalog:     catalog,
		Roster:      &Roster{deps: shared},
		Circulation: &Circulation{deps: shared, catalog: catalog, loanPeriodDays: o.loanPeriodDays},
		Stats:       &StatsAggregator{deps: shared},
	}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, in NewBook) (*Book, error) {
	return lm.Catalog.Register(ctx, in)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id string) (*Book, error) {
	return lm.Catalog.Get(ctx, id)
}

func (lm *LibraryManager) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	return lm.Catalog.List(ctx, f)
}

// ------------------ Member helpers ------------------

func (lm *LibraryManager) AddMember(ctx context.Context, in NewMember) (*Member, error) {
	return lm.Roster.Register(ctx, in)
}

func (lm *LibraryManager) GetMember(ctx context.Context, id string) (*Member, error) {
	return lm.Roster.Get(ctx, id)
}

func (lm *LibraryManager) ListMembers(ctx context.Context, f MemberFilter) ([]Member, error) {
	return lm.Roster.List(ctx, f)
}

// ------------------ Circulation ------------------

// CheckoutBook lends a copy for the default loan period.
func (lm *LibraryManager) CheckoutBook(ctx context.Context, bookID, memberID string) (*Loan, error) {
	return lm.Circulation.Checkout(ctx, bookID, memberID, 0)
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, transactionID string) (*Loan, error) {
	return lm.Circulation.ReturnBook(ctx, transactionID)
}

func (lm *LibraryManager) Restock(ctx context.Context, bookID string, delta int) (*Book, error) {
	return lm.Circulation.Restock(ctx, bookID, delta)
}

func (lm *LibraryManager) ActiveLoans(ctx context.Context) ([]Loan, error) {
	return lm.Circulation.ListActive(ctx)
}

func (lm *LibraryManager) Transactions(ctx context.Context, f TransactionFilter) ([]Loan, error) {
	return lm.Circulation.ListAll(ctx, f)
}

func (lm *LibraryManager) DashboardStats(ctx context.Context) (Stats, error) {
	return lm.Stats.Compute(ctx)
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-36s %-30s %-25s %-12s %3d/%-3d", b.ID, truncate(b.Title, 30),
		truncate(b.Author, 25), truncate(b.Genre, 12), b.AvailableCopies, b.TotalCopies)
}

// PrettyMember formats a member for lists.
func PrettyMember(m *Member) string {
	return fmt.Sprintf("%-36s %-25s %-12s %-8s %s", m.ID, truncate(m.Name, 25), m.StudentID, m.Grade, m.Email)
}

// PrettyLoan formats a ledger entry for lists.
func PrettyLoan(l *Loan) string {
	title, name := l.BookID, l.MemberID
	if l.Book != nil {
		title = l.Book.Title
	}
	if l.Member != nil {
		name = l.Member.Name
	}
	status := string(l.Status)
	if l.DaysOverdue > 0 {
		status = fmt.Sprintf("%s (%dd)", status, l.DaysOverdue)
	}
	return fmt.Sprintf("%-36s %-30s %-25s %-10s %s", l.ID, truncate(title, 30), truncate(name, 25),
		l.DueDate.Format(time.DateOnly), status)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

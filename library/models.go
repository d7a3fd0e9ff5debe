package library

import "time"

// Book is a catalog title with a finite number of physical copies.
// AvailableCopies is owned by the circulation engine; callers never set it.
type Book struct {
	ID              string    `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	ISBN            string    `json:"isbn" db:"isbn"`
	Genre           string    `json:"genre" db:"genre"`
	Description     string    `json:"description" db:"description"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// LentCopies is the number of copies currently out on loan.
func (b *Book) LentCopies() int { return b.TotalCopies - b.AvailableCopies }

// Member is a registered borrower.
type Member struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	StudentID string    `json:"student_id" db:"student_id"`
	Grade     string    `json:"grade" db:"grade"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone" db:"phone"`
	Picture   string    `json:"picture,omitempty" db:"picture"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Status is the lending state of a transaction. It is always derived from
// (ReturnDate, DueDate, now) and never stored.
type Status string

const (
	StatusBorrowed Status = "borrowed"
	StatusOverdue  Status = "overdue"
	StatusReturned Status = "returned"
)

// Transaction is one ledger entry: a single copy lent to a single member.
type Transaction struct {
	ID           string     `json:"id" db:"id"`
	BookID       string     `json:"book_id" db:"book_id"`
	MemberID     string     `json:"member_id" db:"member_id"`
	CheckoutDate time.Time  `json:"checkout_date" db:"checkout_date"`
	DueDate      time.Time  `json:"due_date" db:"due_date"`
	ReturnDate   *time.Time `json:"return_date" db:"return_date"`
}

// Active reports whether the copy is still out.
func (t *Transaction) Active() bool { return t.ReturnDate == nil }

// StatusAt derives the transaction status at the given instant.
func (t *Transaction) StatusAt(now time.Time) Status {
	switch {
	case !t.Active():
		return StatusReturned
	case t.DueDate.Before(now):
		return StatusOverdue
	default:
		return StatusBorrowed
	}
}

// DaysOverdueAt returns whole days past the due date, 0 for returned or
// not-yet-due loans.
func (t *Transaction) DaysOverdueAt(now time.Time) int {
	if !t.Active() || !t.DueDate.Before(now) {
		return 0
	}
	return int(now.Sub(t.DueDate) / (24 * time.Hour))
}

// Loan is a transaction annotated at read time with its derived status and,
// when resolved, the book and member it references.
type Loan struct {
	Transaction
	Status      Status  `json:"status"`
	IsOverdue   bool    `json:"is_overdue"`
	DaysOverdue int     `json:"days_overdue"`
	Book        *Book   `json:"book,omitempty"`
	Member      *Member `json:"member,omitempty"`
}

func newLoan(t Transaction, now time.Time) Loan {
	status := t.StatusAt(now)
	return Loan{
		Transaction: t,
		Status:      status,
		IsOverdue:   status == StatusOverdue,
		DaysOverdue: t.DaysOverdueAt(now),
	}
}

// Stats are the dashboard counters.
type Stats struct {
	TotalBooks      int `json:"total_books"`
	TotalMembers    int `json:"total_members"`
	TotalCopies     int `json:"total_copies"`
	BorrowedBooks   int `json:"borrowed_books"`
	AvailableCopies int `json:"available_copies"`
	OverdueBooks    int `json:"overdue_books"`
}

// BookFilter narrows catalog listings. Zero value lists everything.
type BookFilter struct {
	Query         string
	Genre         string
	AvailableOnly bool
}

// MemberFilter narrows roster listings.
type MemberFilter struct {
	Query string
	Grade string
}

// TransactionFilter narrows ledger listings. Status accepts the derived
// statuses plus "active" (borrowed or overdue).
type TransactionFilter struct {
	ID       string
	BookID   string
	MemberID string
	Status   string
}

const StatusFilterActive = "active"

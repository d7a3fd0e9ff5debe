package library

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, opts ...Option) (*LibraryManager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	mgr, err := NewLibraryManager(filepath.Join(t.TempDir(), "lib.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, clock
}

func addBook(t *testing.T, mgr *LibraryManager, title string, copies int) *Book {
	t.Helper()
	b, err := mgr.AddBook(context.Background(), NewBook{
		Title: title, Author: "Author of " + title, ISBN: "isbn-" + title, Genre: "Fiction", TotalCopies: copies,
	})
	require.NoError(t, err)
	return b
}

func addMember(t *testing.T, mgr *LibraryManager, name, studentID string) *Member {
	t.Helper()
	m, err := mgr.AddMember(context.Background(), NewMember{Name: name, StudentID: studentID, Grade: "8"})
	require.NoError(t, err)
	return m
}

func requireCopies(t *testing.T, mgr *LibraryManager, bookID string, total, available int) {
	t.Helper()
	b, err := mgr.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	assert.Equal(t, total, b.TotalCopies, "total copies")
	assert.Equal(t, available, b.AvailableCopies, "available copies")
}

func Test_NewLibraryManager_RejectsInvalidOptions(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLibraryManager(filepath.Join(dir, "a.db"), WithLoanPeriod(0))
	assert.Error(t, err)

	_, err = NewLibraryManager(filepath.Join(dir, "b.db"), WithRetry(0, time.Millisecond))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = NewLibraryManager(filepath.Join(dir, "c.db"), WithRetry(3, -time.Millisecond))
	assert.ErrorIs(t, err, ErrNegativeBaseDelay)

	_, err = NewLibraryManager(filepath.Join(dir, "d.db"), WithClock(nil))
	assert.Error(t, err)
}

func Test_LibraryManager_UsesConfiguredLoanPeriod(t *testing.T) {
	mgr, _ := newManager(t, WithLoanPeriod(7))
	book := addBook(t, mgr, "Dune", 1)
	member := addMember(t, mgr, "Ana", "S-1")

	txn, err := mgr.CheckoutBook(context.Background(), book.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(7*24*time.Hour), txn.DueDate)
}

func Test_LibraryManager_EndToEnd(t *testing.T) {
	ctx := context.Background()
	mgr, clock := newManager(t)
	book := addBook(t, mgr, "Matilda", 2)
	member := addMember(t, mgr, "Ben", "S-2")

	txn, err := mgr.CheckoutBook(ctx, book.ID, member.ID)
	require.NoError(t, err)

	active, err := mgr.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Matilda", active[0].Book.Title)
	assert.Equal(t, "Ben", active[0].Member.Name)

	clock.Advance(time.Hour)
	_, err = mgr.ReturnBook(ctx, txn.ID)
	require.NoError(t, err)

	stats, err := mgr.DashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalBooks: 1, TotalMembers: 1, TotalCopies: 2, AvailableCopies: 2}, stats)

	history, err := mgr.Transactions(ctx, TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusReturned, history[0].Status)
}

func Test_PrettyLoan_FallsBackToIDs(t *testing.T) {
	l := &Loan{Transaction: Transaction{ID: "t1", BookID: "b1", MemberID: "m1", DueDate: t0}, Status: StatusOverdue, DaysOverdue: 3}
	line := PrettyLoan(l)
	assert.Contains(t, line, "b1")
	assert.Contains(t, line, "m1")
	assert.Contains(t, line, "overdue (3d)")
	assert.Contains(t, line, "2025-03-03")
}

func Test_Truncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

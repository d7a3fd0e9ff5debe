package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func Test_Checkout_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, clock := newManager(t)
	book := addBook(t, mgr, "Holes", 3)
	member := addMember(t, mgr, "Ana", "S-1")

	// act
	txn, err := mgr.Circulation.Checkout(ctx, book.ID, member.ID, 0)

	// assert
	require.NoError(t, err)
	assert.Equal(t, book.ID, txn.BookID)
	assert.Equal(t, member.ID, txn.MemberID)
	assert.Equal(t, t0, txn.CheckoutDate)
	assert.Equal(t, t0.Add(14*day), txn.DueDate)
	assert.Nil(t, txn.ReturnDate)
	assert.Equal(t, StatusBorrowed, txn.Status)
	assert.False(t, txn.IsOverdue)
	require.NotNil(t, txn.Book)
	assert.Equal(t, 2, txn.Book.AvailableCopies)
	require.NotNil(t, txn.Member)
	assert.Equal(t, "Ana", txn.Member.Name)
	requireCopies(t, mgr, book.ID, 3, 2)

	clock.Advance(2 * day)
	returned, err := mgr.Circulation.ReturnBook(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, t0.Add(2*day), *returned.ReturnDate)
	assert.Equal(t, StatusReturned, returned.Status)
	require.NotNil(t, returned.Book)
	assert.Equal(t, 3, returned.Book.AvailableCopies)
	requireCopies(t, mgr, book.ID, 3, 3)

	loan, err := mgr.Circulation.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, loan.Status)
	assert.False(t, loan.IsOverdue)
	assert.Zero(t, loan.DaysOverdue)
}

func Test_Checkout_CustomLoanDays(t *testing.T) {
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Holes", 1)
	member := addMember(t, mgr, "Ana", "S-1")

	txn, err := mgr.Circulation.Checkout(context.Background(), book.ID, member.ID, 3)

	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*day), txn.DueDate)
}

func Test_Checkout_Failures_LeaveCountsUntouched(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Holes", 1)
	ana := addMember(t, mgr, "Ana", "S-1")
	ben := addMember(t, mgr, "Ben", "S-2")

	_, err := mgr.Circulation.Checkout(ctx, "", ana.ID, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = mgr.Circulation.Checkout(ctx, book.ID, "  ", 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = mgr.Circulation.Checkout(ctx, "missing", ana.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Circulation.Checkout(ctx, book.ID, "missing", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	requireCopies(t, mgr, book.ID, 1, 1)

	_, err = mgr.Circulation.Checkout(ctx, book.ID, ana.ID, 0)
	require.NoError(t, err)

	_, err = mgr.Circulation.Checkout(ctx, book.ID, ben.ID, 0)
	assert.ErrorIs(t, err, ErrOutOfStock)
	requireCopies(t, mgr, book.ID, 1, 0)

	loans, err := mgr.Circulation.ListAll(ctx, TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, loans, 1, "failed checkouts leave no ledger entries")
}

func Test_Checkout_SameMemberTwice(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Holes", 2)
	ana := addMember(t, mgr, "Ana", "S-1")

	txn, err := mgr.Circulation.Checkout(ctx, book.ID, ana.ID, 0)
	require.NoError(t, err)

	_, err = mgr.Circulation.Checkout(ctx, book.ID, ana.ID, 0)
	assert.ErrorIs(t, err, ErrConflict)
	requireCopies(t, mgr, book.ID, 2, 1)

	_, err = mgr.Circulation.ReturnBook(ctx, txn.ID)
	require.NoError(t, err)
	_, err = mgr.Circulation.Checkout(ctx, book.ID, ana.ID, 0)
	assert.NoError(t, err, "a returned title can be borrowed again")
}

func Test_ReturnBook_Twice(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Holes", 1)
	member := addMember(t, mgr, "Ana", "S-1")
	txn, err := mgr.Circulation.Checkout(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)

	_, err = mgr.Circulation.ReturnBook(ctx, txn.ID)
	require.NoError(t, err)
	_, err = mgr.Circulation.ReturnBook(ctx, txn.ID)

	assert.ErrorIs(t, err, ErrAlreadyReturned)
	requireCopies(t, mgr, book.ID, 1, 1)
}

func Test_ReturnBook_Unknown(t *testing.T) {
	mgr, _ := newManager(t)

	_, err := mgr.Circulation.ReturnBook(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Circulation.ReturnBook(context.Background(), " ")
	assert.ErrorIs(t, err, ErrValidation)
}

func Test_ConcurrentReturns_IncrementOnce(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Holes", 1)
	member := addMember(t, mgr, "Ana", "S-1")
	txn, err := mgr.Circulation.Checkout(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := mgr.Circulation.ReturnBook(ctx, txn.ID)
			errs <- err
		}()
	}

	ok, already := 0, 0
	for i := 0; i < callers; i++ {
		switch err := <-errs; {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyReturned):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
	requireCopies(t, mgr, book.ID, 1, 1)
}

func Test_ConcurrentCheckouts_NeverOversell(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	const copies, callers = 3, 12
	book := addBook(t, mgr, "Holes", copies)
	members := make([]*Member, callers)
	for i := range members {
		members[i] = addMember(t, mgr, fmt.Sprintf("Reader %d", i), fmt.Sprintf("S-%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for _, m := range members {
		wg.Add(1)
		go func(memberID string) {
			defer wg.Done()
			_, err := mgr.Circulation.Checkout(ctx, book.ID, memberID, 0)
			errs <- err
		}(m.ID)
	}
	wg.Wait()
	close(errs)

	ok, outOfStock := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrOutOfStock):
			outOfStock++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, copies, ok)
	assert.Equal(t, callers-copies, outOfStock)
	requireCopies(t, mgr, book.ID, copies, 0)

	active, err := mgr.Circulation.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, copies)
	assert.Zero(t, mgr.Circulation.locks.size(), "lock table drains")
}

func Test_ConcurrentCheckouts_DifferentBooks(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	member := addMember(t, mgr, "Ana", "S-1")
	const n = 6
	books := make([]*Book, n)
	for i := range books {
		books[i] = addBook(t, mgr, fmt.Sprintf("Book %d", i), 1)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, b := range books {
		wg.Add(1)
		go func(bookID string) {
			defer wg.Done()
			_, err := mgr.Circulation.Checkout(ctx, bookID, member.ID, 0)
			errs <- err
		}(b.ID)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	for _, b := range books {
		requireCopies(t, mgr, b.ID, 1, 0)
	}
}

func Test_Overdue_DerivedAtReadTime(t *testing.T) {
	ctx := context.Background()
	mgr, clock := newManager(t)
	book := addBook(t, mgr, "Holes", 1)
	member := addMember(t, mgr, "Ana", "S-1")
	txn, err := mgr.Circulation.Checkout(ctx, book.ID, member.ID, 14)
	require.NoError(t, err)

	loan, err := mgr.Circulation.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, loan.Status)

	clock.Advance(14 * day)
	loan, err = mgr.Circulation.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, loan.Status, "due instant itself is not overdue")

	clock.Advance(3*day + time.Hour)
	loan, err = mgr.Circulation.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOverdue, loan.Status)
	assert.True(t, loan.IsOverdue)
	assert.Equal(t, 3, loan.DaysOverdue)

	stats, err := mgr.Stats.Compute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OverdueBooks)

	_, err = mgr.Circulation.ReturnBook(ctx, txn.ID)
	require.NoError(t, err)
	loan, err = mgr.Circulation.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, loan.Status)
	assert.Zero(t, loan.DaysOverdue)
}

func Test_TwoCopies_ThreeMembers(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Holes", 2)
	a := addMember(t, mgr, "A", "S-A")
	b := addMember(t, mgr, "B", "S-B")
	c := addMember(t, mgr, "C", "S-C")

	ta, err := mgr.Circulation.Checkout(ctx, book.ID, a.ID, 0)
	require.NoError(t, err)
	_, err = mgr.Circulation.Checkout(ctx, book.ID, b.ID, 0)
	require.NoError(t, err)
	_, err = mgr.Circulation.Checkout(ctx, book.ID, c.ID, 0)
	require.ErrorIs(t, err, ErrOutOfStock)

	_, err = mgr.Circulation.ReturnBook(ctx, ta.ID)
	require.NoError(t, err)
	_, err = mgr.Circulation.Checkout(ctx, book.ID, c.ID, 0)
	require.NoError(t, err)
	requireCopies(t, mgr, book.ID, 2, 0)
}

func Test_ListAll_Filters(t *testing.T) {
	ctx := context.Background()
	mgr, clock := newManager(t)
	holes := addBook(t, mgr, "Holes", 2)
	dune := addBook(t, mgr, "Dune", 1)
	ana := addMember(t, mgr, "Ana", "S-1")
	ben := addMember(t, mgr, "Ben", "S-2")

	first, err := mgr.Circulation.Checkout(ctx, holes.ID, ana.ID, 1)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := mgr.Circulation.Checkout(ctx, dune.ID, ben.ID, 30)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	third, err := mgr.Circulation.Checkout(ctx, holes.ID, ben.ID, 30)
	require.NoError(t, err)
	_, err = mgr.Circulation.ReturnBook(ctx, third.ID)
	require.NoError(t, err)
	clock.Advance(2 * day)

	ids := func(loans []Loan) []string {
		out := make([]string, len(loans))
		for i, l := range loans {
			out[i] = l.ID
		}
		return out
	}

	all, err := mgr.Circulation.ListAll(ctx, TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, ids(all), "newest first")

	overdue, err := mgr.Circulation.ListAll(ctx, TransactionFilter{Status: "overdue"})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids(overdue))

	borrowed, err := mgr.Circulation.ListAll(ctx, TransactionFilter{Status: "Borrowed"})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(borrowed))

	active, err := mgr.Circulation.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, ids(active))

	returned, err := mgr.Circulation.ListAll(ctx, TransactionFilter{Status: "returned"})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID}, ids(returned))

	byBen, err := mgr.Circulation.ListAll(ctx, TransactionFilter{MemberID: ben.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, second.ID}, ids(byBen))

	byHoles, err := mgr.Circulation.ListAll(ctx, TransactionFilter{BookID: holes.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, first.ID}, ids(byHoles))

	_, err = mgr.Circulation.ListAll(ctx, TransactionFilter{Status: "lost"})
	assert.ErrorIs(t, err, ErrValidation)
}

func Test_Circulation_Get_Unknown(t *testing.T) {
	mgr, _ := newManager(t)

	_, err := mgr.Circulation.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_Restock_SerializesWithCheckouts(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Holes", 1)
	const callers = 6
	members := make([]*Member, callers)
	for i := range members {
		members[i] = addMember(t, mgr, fmt.Sprintf("Reader %d", i), fmt.Sprintf("S-%d", i))
	}

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(2)
		go func(memberID string) {
			defer wg.Done()
			mgr.Circulation.Checkout(ctx, book.ID, memberID, 0) //nolint:errcheck
		}(m.ID)
		go func() {
			defer wg.Done()
			mgr.Circulation.Restock(ctx, book.ID, 1) //nolint:errcheck
		}()
	}
	wg.Wait()

	b, err := mgr.GetBook(ctx, book.ID)
	require.NoError(t, err)
	active, err := mgr.Circulation.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1+callers, b.TotalCopies)
	assert.Equal(t, b.TotalCopies-len(active), b.AvailableCopies)
	assert.GreaterOrEqual(t, b.AvailableCopies, 0)
}

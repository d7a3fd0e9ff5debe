package library

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StatsAggregator derives the dashboard counters. It never writes.
type StatsAggregator struct {
	deps
}

// Compute folds the catalog, the roster and the active ledger entries into
// Stats. All three are read from one snapshot; overdue loans are evaluated
// against the clock at call time.
func (s *StatsAggregator) Compute(ctx context.Context) (Stats, error) {
	var (
		totals  copyTotals
		members int
		active  []Transaction
	)
	err := s.retry.do(ctx, func(ctx context.Context) error {
		return s.db.inReadTx(ctx, func(tx *sqlx.Tx) error {
			var err error
			if totals, err = s.db.CopyTotals(ctx, tx); err != nil {
				return fmt.Errorf("copy totals: %w", err)
			}
			if members, err = s.db.CountMembers(ctx, tx); err != nil {
				return fmt.Errorf("count members: %w", err)
			}
			if active, err = s.db.ActiveTransactions(ctx, tx); err != nil {
				return fmt.Errorf("active transactions: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	overdue := 0
	for i := range active {
		if active[i].StatusAt(now) == StatusOverdue {
			overdue++
		}
	}

	return Stats{
		TotalBooks:      totals.Books,
		TotalMembers:    members,
		TotalCopies:     totals.Total,
		BorrowedBooks:   totals.Total - totals.Available,
		AvailableCopies: totals.Available,
		OverdueBooks:    overdue,
	}, nil
}

package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"library-circulation/library"
)

func newCheckoutCmd(rt *runtime) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "checkout <book-id> <member-id>",
		Short: "Lend a copy of a book to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			t, err := mgr.Circulation.Checkout(cmd.Context(), args[0], args[1], days)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Checked out, due %s (transaction %s)", t.DueDate.Format(time.DateOnly), t.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Loan period in days (default: circulation.loan_period_days)")
	return cmd
}

func newReturnCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "return <transaction-id>",
		Short: "Take a lent copy back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			t, err := mgr.ReturnBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			ok(w, "Returned transaction %s", t.ID)
			if late := int(t.ReturnDate.Sub(t.DueDate) / (24 * time.Hour)); late > 0 {
				warn(w, "Returned %d day(s) late", late)
			}
			return nil
		},
	}
}

func newLoansCmd(rt *runtime) *cobra.Command {
	var (
		all    bool
		filter library.TransactionFilter
	)

	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List active loans, or the full history with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			if !all && filter.Status == "" {
				filter.Status = library.StatusFilterActive
			}
			loans, err := mgr.Transactions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(loans) == 0 {
				warn(w, "No loans found.")
				return nil
			}
			header(w, "%-36s %-30s %-25s %-10s %s", "Transaction", "Book", "Member", "Due", "Status")
			fmt.Fprintln(w, strings.Repeat("-", 118))
			for i := range loans {
				line := library.PrettyLoan(&loans[i])
				if loans[i].IsOverdue {
					line = color.RedString(line)
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&all, "all", false, "Include returned loans")
	f.StringVar(&filter.Status, "status", "", "active, borrowed, overdue or returned")
	f.StringVar(&filter.BookID, "book", "", "Only loans of this book id")
	f.StringVar(&filter.MemberID, "member", "", "Only loans of this member id")
	return cmd
}

func newRestockCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "restock <book-id> <delta>",
		Short: "Add (positive delta) or retire (negative delta) copies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("delta must be an integer: %w", err)
			}
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			b, err := mgr.Restock(cmd.Context(), args[0], delta)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "%q now has %d copies, %d on the shelf", b.Title, b.TotalCopies, b.AvailableCopies)
			return nil
		},
	}
}

func newStatsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			s, err := mgr.DashboardStats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			header(w, "Library statistics")
			fmt.Fprintf(w, "  %-18s %d\n", "Titles:", s.TotalBooks)
			fmt.Fprintf(w, "  %-18s %d\n", "Members:", s.TotalMembers)
			fmt.Fprintf(w, "  %-18s %d\n", "Copies:", s.TotalCopies)
			fmt.Fprintf(w, "  %-18s %d\n", "On the shelf:", s.AvailableCopies)
			fmt.Fprintf(w, "  %-18s %d\n", "Borrowed:", s.BorrowedBooks)
			overdue := strconv.Itoa(s.OverdueBooks)
			if s.OverdueBooks > 0 {
				overdue = color.RedString(overdue)
			}
			fmt.Fprintf(w, "  %-18s %s\n", "Overdue:", overdue)
			return nil
		},
	}
}

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

func newMembersCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage the roster",
	}
	cmd.AddCommand(newMembersAddCmd(rt), newMembersListCmd(rt))
	return cmd
}

func newMembersAddCmd(rt *runtime) *cobra.Command {
	var in library.NewMember

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a borrower",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			m, err := mgr.AddMember(cmd.Context(), in)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Added %s (%s) id=%s", m.Name, m.StudentID, m.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Full name")
	f.StringVar(&in.StudentID, "student-id", "", "School-issued student id")
	f.StringVar(&in.Grade, "grade", "", "Grade or class")
	f.StringVar(&in.Email, "email", "", "Email address")
	f.StringVar(&in.Phone, "phone", "", "Phone number")
	return cmd
}

func newMembersListCmd(rt *runtime) *cobra.Command {
	var filter library.MemberFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			members, err := mgr.ListMembers(cmd.Context(), filter)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(members) == 0 {
				warn(w, "No members found.")
				return nil
			}
			header(w, "%-36s %-25s %-12s %-8s %s", "ID", "Name", "Student ID", "Grade", "Email")
			fmt.Fprintln(w, strings.Repeat("-", 100))
			for i := range members {
				fmt.Fprintln(w, library.PrettyMember(&members[i]))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&filter.Query, "query", "q", "", "Match name, student id or email")
	f.StringVar(&filter.Grade, "grade", "", "Match grade")
	return cmd
}

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

func newBooksCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Manage the catalog",
	}
	cmd.AddCommand(newBooksAddCmd(rt), newBooksListCmd(rt))
	return cmd
}

func newBooksAddCmd(rt *runtime) *cobra.Command {
	var in library.NewBook

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a title with its number of copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			b, err := mgr.AddBook(cmd.Context(), in)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Added %q (%d copies) id=%s", b.Title, b.TotalCopies, b.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "Title")
	f.StringVar(&in.Author, "author", "", "Author")
	f.StringVar(&in.ISBN, "isbn", "", "ISBN")
	f.StringVar(&in.Genre, "genre", "", "Genre")
	f.IntVar(&in.TotalCopies, "copies", 1, "Number of physical copies")
	f.StringVar(&in.Description, "description", "", "Short description")
	return cmd
}

func newBooksListCmd(rt *runtime) *cobra.Command {
	var filter library.BookFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			books, err := mgr.ListBooks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(books) == 0 {
				warn(w, "No books found.")
				return nil
			}
			header(w, "%-36s %-30s %-25s %-12s %s", "ID", "Title", "Author", "Genre", "Avail")
			fmt.Fprintln(w, strings.Repeat("-", 112))
			for i := range books {
				fmt.Fprintln(w, library.PrettyBook(&books[i]))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&filter.Query, "query", "q", "", "Match title, author or ISBN")
	f.StringVar(&filter.Genre, "genre", "", "Match genre")
	f.BoolVar(&filter.AvailableOnly, "available", false, "Only titles with a copy on the shelf")
	return cmd
}

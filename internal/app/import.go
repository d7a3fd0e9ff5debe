package app

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"library-circulation/internal/seed"
)

// ExecuteImport runs "librarydesk import" with the process arguments. It is
// the entry point of the standalone import_books binary.
func ExecuteImport() {
	root := newRootCmd()
	root.SetArgs(append([]string{"import"}, os.Args[1:]...))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newImportCmd(rt *runtime) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "import <seed.yml>",
		Short: "Bulk-register books and members from a YAML seed file",
		Long: `Reads a YAML file of the form

  books:
    - {title: ..., author: ..., isbn: ..., genre: ..., copies: 2, description: ...}
  members:
    - {name: ..., student_id: ..., grade: ..., email: ..., phone: ...}

and registers every entry. Entries that fail are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			f, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}

			if fresh {
				dbPath := rt.cfg.Database.Path
				for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
					if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
						warn(w, "Could not remove %s: %v", file, err)
					}
				}
				ok(w, "Removed existing database %s", dbPath)
			}

			mgr, err := rt.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			rep := seed.Apply(cmd.Context(), mgr, f, func(r seed.Result) {
				if r.Err != nil {
					failed(w, "%s %s: %v", r.Kind, r.Label, r.Err)
					return
				}
				ok(w, "%s %s (id %s)", r.Kind, r.Label, r.ID)
			})

			fmt.Fprintln(w)
			header(w, "Import complete")
			fmt.Fprintf(w, "  Books added:   %d\n", rep.BooksAdded)
			fmt.Fprintf(w, "  Members added: %d\n", rep.MembersAdded)
			fmt.Fprintf(w, "  Errors:        %d\n", len(rep.Failed))
			if len(rep.Failed) > 0 {
				return fmt.Errorf("%d seed entries failed", len(rep.Failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Delete the existing database before importing")
	return cmd
}

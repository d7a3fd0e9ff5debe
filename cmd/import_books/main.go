// Command import_books loads a YAML seed file into the library database.
//
//	import_books [--fresh] [--db library.db] seed.yml
package main

import "library-circulation/internal/app"

func main() {
	app.ExecuteImport()
}

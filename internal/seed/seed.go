// Package seed bulk-loads books and members from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"library-circulation/library"
)

// File is the on-disk seed format.
type File struct {
	Books   []BookEntry   `yaml:"books"`
	Members []MemberEntry `yaml:"members"`
}

type BookEntry struct {
	Title       string `yaml:"title"`
	Author      string `yaml:"author"`
	ISBN        string `yaml:"isbn"`
	Genre       string `yaml:"genre"`
	Copies      int    `yaml:"copies"`
	Description string `yaml:"description"`
}

type MemberEntry struct {
	Name      string `yaml:"name"`
	StudentID string `yaml:"student_id"`
	Grade     string `yaml:"grade"`
	Email     string `yaml:"email"`
	Phone     string `yaml:"phone"`
}

// Decode parses a seed document. Unknown keys are rejected so typos do not
// silently drop data.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &f, nil
}

// LoadFile reads and parses the seed file at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(fh)
}

// Kind tells books and members apart in a Result.
type Kind string

const (
	KindBook   Kind = "book"
	KindMember Kind = "member"
)

// Result is the outcome of one seed entry.
type Result struct {
	Kind  Kind
	Label string
	ID    string
	Err   error
}

// Report summarizes an Apply run.
type Report struct {
	BooksAdded   int
	MembersAdded int
	Failed       []Result
}

// Apply registers every entry through the catalog and the roster. A failing
// entry is recorded and the import moves on. onResult, when set, sees every
// outcome as it happens.
func Apply(ctx context.Context, mgr *library.LibraryManager, f *File, onResult func(Result)) Report {
	var rep Report
	emit := func(r Result) {
		if r.Err != nil {
			rep.Failed = append(rep.Failed, r)
		}
		if onResult != nil {
			onResult(r)
		}
	}

	for _, e := range f.Books {
		b, err := mgr.Catalog.Register(ctx, library.NewBook{
			Title: e.Title, Author: e.Author, ISBN: e.ISBN, Genre: e.Genre,
			TotalCopies: e.Copies, Description: e.Description,
		})
		r := Result{Kind: KindBook, Label: e.Title, Err: err}
		if err == nil {
			r.ID = b.ID
			rep.BooksAdded++
		}
		emit(r)
	}

	for _, e := range f.Members {
		m, err := mgr.Roster.Register(ctx, library.NewMember{
			Name: e.Name, StudentID: e.StudentID, Grade: e.Grade, Email: e.Email, Phone: e.Phone,
		})
		r := Result{Kind: KindMember, Label: fmt.Sprintf("%s (%s)", e.Name, e.StudentID), Err: err}
		if err == nil {
			r.ID = m.ID
			rep.MembersAdded++
		}
		emit(r)
	}
	return rep
}

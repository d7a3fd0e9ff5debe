package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const defaultBusyTimeout = 5 * time.Second

var (
	bookColumns = []any{
		"id", "title", "author", "isbn", "genre", "description",
		"total_copies", "available_copies", "created_at",
	}
	memberColumns = []any{
		"id", "name", "student_id", "grade", "email", "phone", "picture", "created_at",
	}
)

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper

	addBookStmt   *sqlx.Stmt
	addMemberStmt *sqlx.Stmt
}

// DatabaseOption tunes NewDatabase.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	busyTimeout time.Duration
}

// WithDatabaseBusyTimeout sets how long SQLite waits on a locked database before
// reporting SQLITE_BUSY.
func WithDatabaseBusyTimeout(d time.Duration) DatabaseOption {
	return func(o *databaseOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string, opts ...DatabaseOption) (*Database, error) {
	o := databaseOptions{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Writers take the RESERVED lock at BEGIN so two transactions never
	// deadlock upgrading from a read.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate",
		dbPath, o.busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db, dialect: goqu.Dialect("sqlite3")}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	if d.addMemberStmt != nil {
		d.addMemberStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL lets readers proceed while a checkout holds the write lock.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT NOT NULL,
            genre TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            total_copies INTEGER NOT NULL CHECK (total_copies >= 1),
            available_copies INTEGER NOT NULL,
            created_at DATETIME NOT NULL,
            deleted_at DATETIME,
            CHECK (available_copies >= 0 AND available_copies <= total_copies)
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            student_id TEXT NOT NULL UNIQUE,
            grade TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            picture TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            deleted_at DATETIME
        );`,
		`CREATE TABLE IF NOT EXISTS transactions (
            id TEXT PRIMARY KEY,
            book_id TEXT NOT NULL REFERENCES books(id),
            member_id TEXT NOT NULL REFERENCES members(id),
            checkout_date DATETIME NOT NULL,
            due_date DATETIME NOT NULL,
            return_date DATETIME
        );`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_book_active
            ON transactions(book_id) WHERE return_date IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_member_active
            ON transactions(member_id) WHERE return_date IS NULL;`,
		// A member holds at most one copy of a given title at a time.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_active_loan
            ON transactions(book_id, member_id) WHERE return_date IS NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addBookStmt, err = d.db.Preparex(`INSERT INTO books(id,title,author,isbn,genre,description,total_copies,available_copies,created_at)
        VALUES(?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.addMemberStmt, err = d.db.Preparex(`INSERT INTO members(id,name,student_id,grade,email,phone,picture,created_at)
        VALUES(?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// inTx runs fn inside a single SQLite transaction. Any error rolls back every
// write fn made.
func (d *Database) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// inReadTx runs fn against one snapshot of the database. The driver opens
// every transaction with the DSN's BEGIN IMMEDIATE, so writers wait until fn
// returns.
func (d *Database) inReadTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isBusy(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// contains matches term as a literal, case-insensitive (ASCII) substring of col.
func contains(col, term string) exp.Expression {
	return goqu.L(`? LIKE ? ESCAPE '\'`, goqu.C(col), "%"+likeEscaper.Replace(term)+"%")
}

func (d *Database) toSQL(ds interface {
	ToSQL() (string, []any, error)
}) (string, []any, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	return query, args, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (d *Database) AddBook(ctx context.Context, b *Book) error {
	_, err := d.addBookStmt.ExecContext(ctx, b.ID, b.Title, b.Author, b.ISBN, b.Genre, b.Description,
		b.TotalCopies, b.AvailableCopies, b.CreatedAt)
	return err
}

// GetBook fetches a book that has not been deleted.
func (d *Database) GetBook(ctx context.Context, q sqlx.QueryerContext, id string) (*Book, error) {
	query, args, err := d.toSQL(d.dialect.From("books").Prepared(true).
		Select(bookColumns...).
		Where(goqu.C("id").Eq(id), goqu.C("deleted_at").IsNull()))
	if err != nil {
		return nil, err
	}
	var b Book
	if err := sqlx.GetContext(ctx, q, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("book", id)
		}
		return nil, err
	}
	return &b, nil
}

// ListBooks returns a snapshot of the catalog, oldest first.
func (d *Database) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	ds := d.dialect.From("books").Prepared(true).
		Select(bookColumns...).
		Where(goqu.C("deleted_at").IsNull()).
		Order(goqu.C("created_at").Asc(), goqu.L("rowid").Asc())

	if f.Query != "" {
		ds = ds.Where(goqu.Or(
			contains("title", f.Query),
			contains("author", f.Query),
			contains("isbn", f.Query),
		))
	}
	if f.Genre != "" {
		ds = ds.Where(contains("genre", f.Genre))
	}
	if f.AvailableOnly {
		ds = ds.Where(goqu.C("available_copies").Gt(0))
	}

	query, args, err := d.toSQL(ds)
	if err != nil {
		return nil, err
	}
	books := []Book{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, err
	}
	return books, nil
}

// UpdateBookDetails rewrites the descriptive fields; copy counts are untouched.
func (d *Database) UpdateBookDetails(ctx context.Context, q sqlx.ExecerContext, b *Book) error {
	res, err := q.ExecContext(ctx, `UPDATE books SET title=?, author=?, isbn=?, genre=?, description=?
        WHERE id=? AND deleted_at IS NULL`, b.Title, b.Author, b.ISBN, b.Genre, b.Description, b.ID)
	if err != nil {
		return err
	}
	return expectRow(res, notFound("book", b.ID))
}

// AdjustCopies shifts total and available copies by delta. It reports false
// when the result would break 1 ≤ total or 0 ≤ available.
func (d *Database) AdjustCopies(ctx context.Context, q sqlx.ExecerContext, id string, delta int) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE books
        SET total_copies = total_copies + ?1, available_copies = available_copies + ?1
        WHERE id = ?2 AND deleted_at IS NULL
          AND total_copies + ?1 >= 1 AND available_copies + ?1 >= 0`, delta, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TakeCopy decrements available_copies if a copy is on the shelf.
func (d *Database) TakeCopy(ctx context.Context, q sqlx.ExecerContext, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE books SET available_copies = available_copies - 1
        WHERE id = ? AND available_copies > 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// PutBackCopy increments available_copies unless it already equals total_copies.
func (d *Database) PutBackCopy(ctx context.Context, q sqlx.ExecerContext, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE books SET available_copies = available_copies + 1
        WHERE id = ? AND available_copies < total_copies`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (d *Database) DeleteBook(ctx context.Context, q sqlx.ExecerContext, id string, at time.Time) error {
	res, err := q.ExecContext(ctx, `UPDATE books SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	return expectRow(res, notFound("book", id))
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (d *Database) AddMember(ctx context.Context, m *Member) error {
	_, err := d.addMemberStmt.ExecContext(ctx, m.ID, m.Name, m.StudentID, m.Grade, m.Email, m.Phone,
		m.Picture, m.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("student id %s already registered: %w", m.StudentID, ErrConflict)
	}
	return err
}

// GetMember fetches a member that has not been deleted.
func (d *Database) GetMember(ctx context.Context, q sqlx.QueryerContext, id string) (*Member, error) {
	query, args, err := d.toSQL(d.dialect.From("members").Prepared(true).
		Select(memberColumns...).
		Where(goqu.C("id").Eq(id), goqu.C("deleted_at").IsNull()))
	if err != nil {
		return nil, err
	}
	var m Member
	if err := sqlx.GetContext(ctx, q, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("member", id)
		}
		return nil, err
	}
	return &m, nil
}

// ListMembers returns a snapshot of the roster, oldest first.
func (d *Database) ListMembers(ctx context.Context, f MemberFilter) ([]Member, error) {
	ds := d.dialect.From("members").Prepared(true).
		Select(memberColumns...).
		Where(goqu.C("deleted_at").IsNull()).
		Order(goqu.C("created_at").Asc(), goqu.L("rowid").Asc())

	if f.Query != "" {
		ds = ds.Where(goqu.Or(
			contains("name", f.Query),
			contains("student_id", f.Query),
			contains("email", f.Query),
		))
	}
	if f.Grade != "" {
		ds = ds.Where(contains("grade", f.Grade))
	}

	query, args, err := d.toSQL(ds)
	if err != nil {
		return nil, err
	}
	members := []Member{}
	if err := d.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, err
	}
	return members, nil
}

func (d *Database) UpdateMember(ctx context.Context, m *Member) error {
	res, err := d.db.ExecContext(ctx, `UPDATE members SET name=?, grade=?, email=?, phone=?, picture=?
        WHERE id=? AND deleted_at IS NULL`, m.Name, m.Grade, m.Email, m.Phone, m.Picture, m.ID)
	if err != nil {
		return err
	}
	return expectRow(res, notFound("member", m.ID))
}

func (d *Database) DeleteMember(ctx context.Context, q sqlx.ExecerContext, id string, at time.Time) error {
	res, err := q.ExecContext(ctx, `UPDATE members SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	return expectRow(res, notFound("member", id))
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func (d *Database) InsertTransaction(ctx context.Context, q sqlx.ExecerContext, t *Transaction) error {
	_, err := q.ExecContext(ctx, `INSERT INTO transactions(id,book_id,member_id,checkout_date,due_date)
        VALUES(?,?,?,?,?)`, t.ID, t.BookID, t.MemberID, t.CheckoutDate, t.DueDate)
	if isUniqueViolation(err) {
		return fmt.Errorf("member %s already has book %s: %w", t.MemberID, t.BookID, ErrConflict)
	}
	return err
}

func (d *Database) GetTransaction(ctx context.Context, q sqlx.QueryerContext, id string) (*Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, q, &t, `SELECT id,book_id,member_id,checkout_date,due_date,return_date
        FROM transactions WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("transaction", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkReturned stamps return_date on an active transaction. It reports false
// when the transaction was already returned.
func (d *Database) MarkReturned(ctx context.Context, q sqlx.ExecerContext, id string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE transactions SET return_date=? WHERE id=? AND return_date IS NULL`, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountActiveLoans counts unreturned transactions where column equals id.
// column is one of "book_id", "member_id".
func (d *Database) CountActiveLoans(ctx context.Context, q sqlx.QueryerContext, column, id string) (int, error) {
	query, args, err := d.toSQL(d.dialect.From("transactions").Prepared(true).
		Select(goqu.COUNT("*")).
		Where(goqu.C(column).Eq(id), goqu.C("return_date").IsNull()))
	if err != nil {
		return 0, err
	}
	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// HasActiveLoan reports whether member currently holds a copy of book.
func (d *Database) HasActiveLoan(ctx context.Context, q sqlx.QueryerContext, bookID, memberID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM transactions
        WHERE book_id=? AND member_id=? AND return_date IS NULL)`, bookID, memberID)
	return exists, err
}

// loanRow is a transaction joined with its book and member, deleted or not.
type loanRow struct {
	Transaction

	BookTitle       string    `db:"book_title"`
	BookAuthor      string    `db:"book_author"`
	BookISBN        string    `db:"book_isbn"`
	BookGenre       string    `db:"book_genre"`
	BookDescription string    `db:"book_description"`
	BookTotal       int       `db:"book_total_copies"`
	BookAvailable   int       `db:"book_available_copies"`
	BookCreatedAt   time.Time `db:"book_created_at"`

	MemberName      string    `db:"member_name"`
	MemberStudentID string    `db:"member_student_id"`
	MemberGrade     string    `db:"member_grade"`
	MemberEmail     string    `db:"member_email"`
	MemberPhone     string    `db:"member_phone"`
	MemberPicture   string    `db:"member_picture"`
	MemberCreatedAt time.Time `db:"member_created_at"`
}

func (r *loanRow) book() *Book {
	return &Book{
		ID: r.BookID, Title: r.BookTitle, Author: r.BookAuthor, ISBN: r.BookISBN,
		Genre: r.BookGenre, Description: r.BookDescription,
		TotalCopies: r.BookTotal, AvailableCopies: r.BookAvailable, CreatedAt: r.BookCreatedAt,
	}
}

func (r *loanRow) member() *Member {
	return &Member{
		ID: r.MemberID, Name: r.MemberName, StudentID: r.MemberStudentID, Grade: r.MemberGrade,
		Email: r.MemberEmail, Phone: r.MemberPhone, Picture: r.MemberPicture, CreatedAt: r.MemberCreatedAt,
	}
}

// ListLoanRows returns joined ledger rows, newest first. Only the stored part
// of the filter (ids, returned vs. active) is applied here; derived statuses
// are filtered by the caller.
func (d *Database) ListLoanRows(ctx context.Context, f TransactionFilter) ([]loanRow, error) {
	ds := d.dialect.From(goqu.T("transactions").As("t")).Prepared(true).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("t.book_id")))).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("t.member_id")))).
		Select(
			goqu.I("t.id").As("id"),
			goqu.I("t.book_id").As("book_id"),
			goqu.I("t.member_id").As("member_id"),
			goqu.I("t.checkout_date").As("checkout_date"),
			goqu.I("t.due_date").As("due_date"),
			goqu.I("t.return_date").As("return_date"),
			goqu.I("b.title").As("book_title"),
			goqu.I("b.author").As("book_author"),
			goqu.I("b.isbn").As("book_isbn"),
			goqu.I("b.genre").As("book_genre"),
			goqu.I("b.description").As("book_description"),
			goqu.I("b.total_copies").As("book_total_copies"),
			goqu.I("b.available_copies").As("book_available_copies"),
			goqu.I("b.created_at").As("book_created_at"),
			goqu.I("m.name").As("member_name"),
			goqu.I("m.student_id").As("member_student_id"),
			goqu.I("m.grade").As("member_grade"),
			goqu.I("m.email").As("member_email"),
			goqu.I("m.phone").As("member_phone"),
			goqu.I("m.picture").As("member_picture"),
			goqu.I("m.created_at").As("member_created_at"),
		).
		Order(goqu.L("t.rowid").Desc())

	if f.ID != "" {
		ds = ds.Where(goqu.I("t.id").Eq(f.ID))
	}
	if f.BookID != "" {
		ds = ds.Where(goqu.I("t.book_id").Eq(f.BookID))
	}
	if f.MemberID != "" {
		ds = ds.Where(goqu.I("t.member_id").Eq(f.MemberID))
	}
	switch f.Status {
	case string(StatusReturned):
		ds = ds.Where(goqu.I("t.return_date").IsNotNull())
	case StatusFilterActive, string(StatusBorrowed), string(StatusOverdue):
		ds = ds.Where(goqu.I("t.return_date").IsNull())
	}

	query, args, err := d.toSQL(ds)
	if err != nil {
		return nil, err
	}
	rows := []loanRow{}
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ActiveTransactions returns every unreturned transaction.
func (d *Database) ActiveTransactions(ctx context.Context, q sqlx.QueryerContext) ([]Transaction, error) {
	txs := []Transaction{}
	err := sqlx.SelectContext(ctx, q, &txs, `SELECT id,book_id,member_id,checkout_date,due_date,return_date
        FROM transactions WHERE return_date IS NULL ORDER BY rowid`)
	return txs, err
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

type copyTotals struct {
	Books     int `db:"books"`
	Total     int `db:"total"`
	Available int `db:"available"`
}

func (d *Database) CopyTotals(ctx context.Context, q sqlx.QueryerContext) (copyTotals, error) {
	var t copyTotals
	err := sqlx.GetContext(ctx, q, &t, `SELECT COUNT(*) AS books,
            COALESCE(SUM(total_copies),0) AS total,
            COALESCE(SUM(available_copies),0) AS available
        FROM books WHERE deleted_at IS NULL`)
	return t, err
}

func (d *Database) CountMembers(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM members WHERE deleted_at IS NULL`)
	return n, err
}

func expectRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

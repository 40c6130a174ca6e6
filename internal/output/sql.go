// internal/output/sql.go
package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/lib/pq"               // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver
	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
)

// Dialect describes the SQL differences between the supported databases.
type Dialect struct {
	Name   string
	Driver string
	// column types for id, url, extracted_at and data
	IDType, URLType, TimeType, DataType string
	placeholder                          func(n int) string
}

func questionMark(int) string { return "?" }

var dialects = map[string]Dialect{
	"sqlite": {
		Name: "sqlite", Driver: "sqlite3",
		IDType: "TEXT", URLType: "TEXT", TimeType: "DATETIME", DataType: "TEXT",
		placeholder: questionMark,
	},
	"postgres": {
		Name: "postgres", Driver: "postgres",
		IDType: "UUID", URLType: "TEXT", TimeType: "TIMESTAMPTZ", DataType: "JSONB",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	},
	"mysql": {
		Name: "mysql", Driver: "mysql",
		IDType: "CHAR(36)", URLType: "TEXT", TimeType: "DATETIME(6)", DataType: "JSON",
		placeholder: questionMark,
	},
	"mssql": {
		Name: "mssql", Driver: "sqlserver",
		IDType: "UNIQUEIDENTIFIER", URLType: "NVARCHAR(MAX)", TimeType: "DATETIME2", DataType: "NVARCHAR(MAX)",
		placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
	},
}

// LookupDialect returns the dialect for an output format name.
func LookupDialect(format string) (Dialect, bool) {
	d, ok := dialects[format]
	return d, ok
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	return d.placeholder(n)
}

// CreateTable returns the statement creating table if it does not exist.
func (d Dialect) CreateTable(table string) string {
	cols := fmt.Sprintf("id %s PRIMARY KEY, url %s NOT NULL, extracted_at %s NOT NULL, data %s",
		d.IDType, d.URLType, d.TimeType, d.DataType)
	if d.Name == "mssql" {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", table, table, cols)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, cols)
}

// Insert returns the statement inserting one record.
func (d Dialect) Insert(table string) string {
	return fmt.Sprintf("INSERT INTO %s (id, url, extracted_at, data) VALUES (%s, %s, %s, %s)",
		table, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))
}

var sqlIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLWriter stores one row per record with the extracted object as a JSON
// document.
type SQLWriter struct {
	db      *sql.DB
	dialect Dialect
	insert  string
}

// NewSQLWriter connects to dsn, creates table if needed and returns a writer.
func NewSQLWriter(ctx context.Context, format, dsn, table string) (*SQLWriter, error) {
	dialect, ok := LookupDialect(format)
	if !ok {
		return nil, writeErr(format, fmt.Errorf("unsupported SQL dialect"))
	}
	if dsn == "" {
		return nil, writeErr(format, fmt.Errorf("connection string is required"))
	}
	if table == "" {
		table = "records"
	}
	if !sqlIdentifierRegex.MatchString(table) {
		return nil, writeErr(format, fmt.Errorf("invalid table name %q", table))
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, writeErr(format, fmt.Errorf("failed to connect: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, writeErr(format, fmt.Errorf("failed to ping database: %w", err))
	}
	if dialect.Name == "sqlite" {
		// SQLite works best with single writer
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, dialect.CreateTable(table)); err != nil {
		db.Close()
		return nil, writeErr(format, fmt.Errorf("failed to create table '%s': %w", table, err))
	}

	return &SQLWriter{db: db, dialect: dialect, insert: dialect.Insert(table)}, nil
}

// Write inserts rec.
func (w *SQLWriter) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return writeErr(w.dialect.Name, err)
	}

	var at any = rec.ExtractedAt
	if w.dialect.Name == "sqlite" {
		at = rec.ExtractedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = w.db.ExecContext(ctx, w.insert, rec.ID.String(), rec.URL, at, string(data))
	if err != nil {
		return writeErr(w.dialect.Name, fmt.Errorf("failed to insert record: %w", err))
	}
	return nil
}

// Ping checks the database connection.
func (w *SQLWriter) Ping(ctx context.Context) error {
	if w.db == nil {
		return writeErr(w.dialect.Name, fmt.Errorf("writer closed"))
	}
	return writeErr(w.dialect.Name, w.db.PingContext(ctx))
}

// DB exposes the connection, mainly for tests.
func (w *SQLWriter) DB() *sql.DB {
	return w.db
}

// Close closes the database connection
func (w *SQLWriter) Close() error {
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return writeErr(w.dialect.Name, err)
}

func isSQLFormat(format string) bool {
	_, ok := dialects[strings.ToLower(format)]
	return ok
}

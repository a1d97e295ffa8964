package tracing

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/structs"
	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// TableName is the table the SQLite recorder writes events into.
const TableName = "trace"

// SQLiteRecorder writes events into a SQLite database. Events are inserted
// in batches, each batch in one transaction.
type SQLiteRecorder struct {
	*sql.DB

	lock      sync.Mutex
	statement *sql.Stmt
	fileName  string
	events    []Event
	batchSize int
}

// NewSQLiteRecorder creates the database file path.sqlite3. An empty path
// generates a unique name. The file must not exist.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = "kernelsim_trace_" + xid.New().String()
	}

	r := &SQLiteRecorder{
		fileName:  path + ".sqlite3",
		batchSize: 10000,
	}

	if err := r.init(); err != nil {
		return nil, err
	}

	atexit.Register(func() { _ = r.Close() })

	return r, nil
}

// FileName returns the name of the database file.
func (r *SQLiteRecorder) FileName() string {
	return r.fileName
}

func (r *SQLiteRecorder) init() error {
	if _, err := os.Stat(r.fileName); err == nil {
		return fmt.Errorf("file %s already exists", r.fileName)
	}

	db, err := sql.Open("sqlite3", r.fileName)
	if err != nil {
		return err
	}

	r.DB = db

	names := structs.Names(Event{})

	// Where is an SQL keyword.
	columns := make([]string, len(names))
	for i, n := range names {
		columns[i] = `"` + n + `"`
	}

	_, err = r.Exec(`CREATE TABLE ` + TableName +
		` (` + "\n\t" + strings.Join(columns, ", \n\t") + "\n" + `);`)
	if err != nil {
		return err
	}

	placeholders := make([]string, len(names))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	r.statement, err = r.Prepare(`INSERT INTO ` + TableName +
		` VALUES (` + strings.Join(placeholders, ", ") + `)`)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Database created for tracing: %s\n", r.fileName)

	return nil
}

// Record buffers an event and writes a batch when the buffer is full.
func (r *SQLiteRecorder) Record(e Event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, e)

	if len(r.events) >= r.batchSize {
		if err := r.flush(); err != nil {
			panic(err)
		}
	}
}

// Flush writes the buffered events.
func (r *SQLiteRecorder) Flush() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.flush()
}

func (r *SQLiteRecorder) flush() error {
	if len(r.events) == 0 {
		return nil
	}

	tx, err := r.Begin()
	if err != nil {
		return err
	}

	stmt := tx.Stmt(r.statement)

	for _, e := range r.events {
		_, err := stmt.Exec(structs.Values(e)...)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	r.events = nil

	return tx.Commit()
}

// Close flushes the buffered events and closes the database.
func (r *SQLiteRecorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.DB == nil {
		return nil
	}

	if err := r.flush(); err != nil {
		return err
	}

	err := r.DB.Close()
	r.DB = nil

	return err
}

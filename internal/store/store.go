// Package store defines the TableStore interface the study state is persisted
// through: named tables of JSON documents keyed by an integer.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/nvandessel/simbatch/internal/constants"
)

var (
	// ErrNoTable is returned when an operation names a table that was never created.
	ErrNoTable = errors.New("table does not exist")

	// ErrDuplicateKey is returned by Insert when the key already has a row.
	// Rows are write-once.
	ErrDuplicateKey = errors.New("key already exists")
)

// Table describes a document table: its name and the integer key column.
type Table struct {
	Name string
	Key  string
}

// Tables of the study store.
var (
	// ConfigsTable holds the canonical study config at row 0.
	ConfigsTable = Table{Name: constants.ConfigsTable, Key: "id"}

	// MetadataTable holds one time window per generation.
	MetadataTable = Table{Name: constants.MetadataTable, Key: "generation"}
)

// Row is one stored document.
type Row struct {
	Key  int64           `json:"key"`
	Data json.RawMessage `json:"data"`
}

// TableStore stores JSON documents in named tables.
type TableStore interface {
	// CreateTable creates the table if it does not exist.
	CreateTable(ctx context.Context, t Table) error

	// HasTable reports whether a table named name exists.
	HasTable(ctx context.Context, name string) (bool, error)

	// Insert stores data, JSON-encoded, under key. It fails with
	// ErrDuplicateKey if the key is taken.
	Insert(ctx context.Context, t Table, key int64, data any) error

	// FindOne decodes the row at key into out and reports whether it exists.
	FindOne(ctx context.Context, t Table, key int64, out any) (bool, error)

	// List returns all rows ordered by key.
	List(ctx context.Context, t Table) ([]Row, error)

	Close() error
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validate rejects table and column names that cannot be used as bare SQL
// identifiers.
func (t Table) validate() error {
	if !identifier.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if !identifier.MatchString(t.Key) {
		return fmt.Errorf("invalid key column %q for table %s", t.Key, t.Name)
	}
	return nil
}

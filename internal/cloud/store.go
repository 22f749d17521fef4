package cloud

import "encoding/json"

// Local store tables used by the application layer.
const (
	TableTemplates      = "templates"
	TableSessionFolders = "sessionFolders"
	TableHistory        = "history"
	TableSavedPlayers   = "savedPlayers"
	TableSavedLocations = "savedLocations"
	TablePreferences    = "preferences"
)

// LocalStore is the application's local object table. Values are JSON-encoded.
// The sync layer never queries it directly; the application layer reads
// payloads from it and hands them to the services.
type LocalStore interface {
	// Get decodes the value stored under key into v.
	// Returns false if the key does not exist.
	Get(table, key string, v any) (bool, error)

	// Put writes or replaces the value under key. index is a secondary key
	// usable with QueryByIndex; it may be empty.
	Put(table, key, index string, v any) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(table, key string) error

	// QueryByIndex returns all values whose secondary index equals index.
	// An empty index returns every value in the table.
	QueryByIndex(table, index string) ([]json.RawMessage, error)

	// BulkDelete removes every listed key in one transaction.
	BulkDelete(table string, keys []string) error

	// Close releases the underlying connection.
	Close() error
}

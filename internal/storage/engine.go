package storage

// Engine defines the interface for the local storage engine.
// It supports basic Key-Value operations.
type Engine interface {
	// Put writes a key-value pair.
	Put(key []byte, value []byte) error

	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(key []byte) ([]byte, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error
}

var _ Engine = (*Store)(nil)

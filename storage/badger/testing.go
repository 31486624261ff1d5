package badger

// NewMemoryStore creates an in-memory store for testing.
// Caller must close it when done.
func NewMemoryStore() (*Store, error) {
	return OpenStore("", true)
}

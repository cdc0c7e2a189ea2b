package storage

// KV is the device-local key-value store the client persists its state in.
// It mirrors browser storage: string keys, string values, no expiry.
// Get reports ok=false for an absent key rather than an error.
// Implementations must be safe for concurrent use within one process.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

package port

import "io"

// BlobStore is the fast cache tier: logical keys resolved to files under one
// sandboxed root. Resolution of an escaping key must fail without touching
// the filesystem.
type BlobStore interface {
	// Resolve maps a logical key to an absolute path strictly beneath the
	// configured root.
	Resolve(key string) (string, error)
	// Put streams content to the key, creating parent directories. A failed
	// write leaves no partial object behind.
	Put(key string, r io.Reader) (int64, error)
	Open(key string) (io.ReadCloser, error)
	Exists(key string) (bool, error)
	Size(key string) (int64, error)
	// Delete removes the object; deleting a missing object is not an error.
	Delete(key string) error
}

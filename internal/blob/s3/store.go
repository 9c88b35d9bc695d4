package s3blob

import "github.com/alanyoungcy/bribemeter/internal/domain"

// Store bundles a Reader and Writer over one bucket.
type Store struct {
	*Reader
	*Writer
}

// NewStore creates a Store for the client's bucket.
func NewStore(c *Client) *Store {
	return &Store{
		Reader: NewReader(c),
		Writer: NewWriter(c),
	}
}

// Compile-time interface check.
var _ domain.BlobStore = (*Store)(nil)

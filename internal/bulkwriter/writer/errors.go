package writer

import (
	"errors"
	"fmt"
)

var (
	ErrNilStore   = errors.New("bulkwriter: store is required")
	ErrNilKeyFunc = errors.New("bulkwriter: key func is required")
	ErrCancelled  = errors.New("bulkwriter: write cancelled")

	ErrAsyncClosed = errors.New("bulkwriter: async writer closed")
)

// StoreCallError means the batch-write call itself failed (transport, auth,
// throttling past the client's own retries). It is never retried here.
type StoreCallError struct {
	Round int
	Batch int
	Size  int
	Err   error
}

func (e *StoreCallError) Error() string {
	return fmt.Sprintf("batch write call failed (round %d, batch %d, %d records): %v", e.Round, e.Batch, e.Size, e.Err)
}

func (e *StoreCallError) Unwrap() error {
	return e.Err
}

func cancelledError(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

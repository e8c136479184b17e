package chat

import (
	"github.com/pkg/errors"

	"github.com/nvoss/typewriter/store"
)

// Error taxonomy of the conversation pipeline. Entry points classify every
// failure as exactly one of these so the transport layer can map them to a
// status code without string matching.
var (
	// ErrUnauthenticated means the request carries no usable caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound means a referenced conversation or message is absent
	// (or not visible to the caller, which reads the same from outside).
	ErrNotFound = errors.New("not found")

	// ErrProvider means a model call failed or timed out.
	ErrProvider = errors.New("provider failure")

	// ErrPersistence means a store read or write failed.
	ErrPersistence = errors.New("persistence failure")
)

func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }
func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsProvider(err error) bool        { return errors.Is(err, ErrProvider) }
func IsPersistence(err error) bool     { return errors.Is(err, ErrPersistence) }

// classifyStoreErr folds a driver error into the taxonomy, keeping the
// original chain for logging.
func classifyStoreErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(ErrNotFound, msg)
	}
	return errors.Wrapf(ErrPersistence, "%s: %v", msg, err)
}

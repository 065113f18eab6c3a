package store

import (
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/sectorkv/lib/db"
	"github.com/ValentinKolb/sectorkv/lib/db/engines/maple"
)

// --------------------------------------------------------------------------
// Device and Options
// --------------------------------------------------------------------------

// Device is the random-access medium a store lives on.
// *os.File and afero.File both satisfy it.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Stat() (os.FileInfo, error)
}

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// Options configures a store. ContentIdentifier and KeySize are written into
// the header on Create and must match exactly on Open.
type Options struct {
	ContentIdentifier string    // Identifies the owner format (at most ContentIdentifierSize bytes)
	KeySize           int       // Exact length of every key in bytes
	DBFactory         DBFactory // Engine factory (nil = maple with default options)
}

// ContentIdentifierSize is the fixed width of the content identifier header field
const ContentIdentifierSize = 16

// NewDB creates the engine configured by the options
func (o Options) NewDB() db.KVDB {
	if o.DBFactory != nil {
		return o.DBFactory()
	}
	return maple.NewMapleDB(maple.DefaultOptions())
}

// Validate checks the options for values that can never produce a valid store
func (o Options) Validate() error {
	if o.KeySize <= 0 {
		return NewError(RetCInvalidOperation, fmt.Sprintf("key size must be positive, got %d", o.KeySize))
	}
	if len(o.ContentIdentifier) > ContentIdentifierSize {
		return NewError(RetCInvalidOperation,
			fmt.Sprintf("content identifier %q exceeds %d bytes", o.ContentIdentifier, ContentIdentifierSize))
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Record is a single committed key-value pair
type Record struct {
	Key   string
	Value []byte
}

// IStore is the interface for a transactional key-value store with fixed-size keys.
//
// Reads see the committed state overlaid with pending writes. Writes are buffered
// until Commit, which applies them and persists the full state to the device.
// There is no auto-commit: a store that is closed without Commit loses all
// pending writes.
//
// After Close every method except Close returns ErrClosed.
type IStore interface {
	// Find returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Find(key string) (value []byte, found bool, err error)
	// ForAll calls fn for every visible entry in ascending key order until fn returns false.
	ForAll(fn func(key string, value []byte) bool) (err error)
	// Insert buffers an insert or update of a key–value pair.
	Insert(key string, value []byte) (err error)
	// Remove buffers the removal of a key. Removing a missing key is a no-op.
	Remove(key string) (err error)
	// Commit applies all pending writes and persists the store.
	Commit() (err error)
	// Rollback discards all pending writes.
	Rollback() (err error)
	// Pending returns the number of buffered writes.
	Pending() int
	// Snapshot returns all committed records in ascending key order.
	Snapshot() (records []Record, err error)
	// KeySize returns the configured key size.
	KeySize() int
	// GetDBInfo returns metadata about the database underlying the store.
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close discards pending writes and releases the store. Closing twice is a no-op.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. Two errors are equivalent (errors.Is) when their codes match.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is a store error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Sentinel errors, compare with errors.Is
var (
	ErrFormatMismatch = NewError(RetCFormatMismatch, "store format mismatch")
	ErrInvalidKeySize = NewError(RetCInvalidKeySize, "invalid key size")
	ErrClosed         = NewError(RetCClosed, "store is closed")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation.
	RetCFormatMismatch                  // 3: Device does not hold a store of the expected format.
	RetCInvalidKeySize                  // 4: Key length differs from the configured key size.
	RetCClosed                          // 5: Store was closed.
	RetCDeviceError                     // 6: Reading from or writing to the device failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCFormatMismatch:
		return "FormatMismatch"
	case RetCInvalidKeySize:
		return "InvalidKeySize"
	case RetCClosed:
		return "Closed"
	case RetCDeviceError:
		return "DeviceError"
	default:
		return "Unknown"
	}
}

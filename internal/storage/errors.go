package storage

import "errors"

// ErrClosed indicates use of a storage after Close.
var ErrClosed = errors.New("storage: closed")

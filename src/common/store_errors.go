package common

import (
	"errors"
	"fmt"
)

// StoreErrType enumerates the lookup failures reported by stores and
// registries.
type StoreErrType uint32

const (
	// KeyNotFound is returned when a key is absent from the store.
	KeyNotFound StoreErrType = iota
	// UnknownSite is returned when a site id is not part of the directory
	// or network state.
	UnknownSite
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Type returns the kind of failure.
func (e StoreErr) Type() StoreErrType {
	return e.errType
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case UnknownSite:
		m = "Unknown Site"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is, or wraps, a StoreErr and that its code
// matches the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}

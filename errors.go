package coalescer

import (
	"errors"
	"fmt"
)

var (
	ErrGroupNotInit = errors.New("use coalescer.NewGroup for create and init group")
	ErrPanicRecover = errors.New("panic recover on fetch func")
	ErrNotFound     = errors.New("key not found in batch result")
	ErrNoFetcher    = errors.New("no fetch func for batch")
	ErrClosed       = errors.New("group is closed")
	ErrGroupType    = errors.New("group registered with another key or value type")
)

// NotFoundError is returned to a caller whose key was absent from the
// fetcher result. Sibling requests of the same batch are not affected.
type NotFoundError struct {
	Group string
	Key   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: group %q key %v", ErrNotFound.Error(), e.Group, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

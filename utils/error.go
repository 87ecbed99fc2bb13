package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorResourceLocked is a transient contention condition: the caller may retry
// after a short backoff. It must never be treated as a validation failure.
var ErrorResourceLocked = errors.New("resource is locked, try again")

// ErrorLockServiceDown signals the lock backend is unreachable. Callers degrade
// to row-level DB locking instead of failing the operation.
var ErrorLockServiceDown = errors.New("lock service unavailable")

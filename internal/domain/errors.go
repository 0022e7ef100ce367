// Package domain holds sentinel errors shared by the stores and the HTTP
// layer, which maps them to status codes.
package domain

import "errors"

// ErrNotFound: no incident, key or account with the given id.
var ErrNotFound = errors.New("not found")

// ErrConflict: the record changed between an operator's read and write, e.g.
// an incident reached a terminal status while an update was being computed.
var ErrConflict = errors.New("conflict: record changed by a concurrent update")

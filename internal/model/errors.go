package model

import "errors"

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by repositories when an insert collides with an
// existing unique key.
var ErrConflict = errors.New("already exists")

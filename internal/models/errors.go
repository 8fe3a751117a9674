package models

import "errors"

// Every stage of the pipeline wraps one of these so callers can tell the
// failure classes apart with errors.Is.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrNumericDegeneracy = errors.New("numeric degeneracy")
	ErrDataSource        = errors.New("data source error")
)

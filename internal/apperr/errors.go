package apperr

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrNotLoaded             = errors.New("board not loaded")
	ErrFetch                 = errors.New("fetch failed")
	ErrInvalidClassification = errors.New("classification result is not an object")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrClassifierDisabled    = errors.New("classifier disabled")
	ErrStorageLocked         = errors.New("storage locked")
	ErrPartialReset          = errors.New("board cleared but raw log kept")
)

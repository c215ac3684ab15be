package domain

import "errors"

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrProviderUnavailable = errors.New("metadata provider unavailable")
	ErrIndexUnavailable    = errors.New("search index unavailable")
	ErrCacheUnavailable    = errors.New("document cache unavailable")
	ErrSearchUnavailable   = errors.New("search unavailable")
)

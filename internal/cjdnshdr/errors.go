package cjdnshdr

import "errors"

var (
	ErrTooShort           = errors.New("cjdnshdr: buffer too short")
	ErrUnknownContentType = errors.New("cjdnshdr: unknown content type")
	ErrInvalidLabel       = errors.New("cjdnshdr: invalid label")
	ErrFieldRange         = errors.New("cjdnshdr: field out of range")
)

package domain

import "errors"

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("expired token")
	ErrPathOutsideRoot   = errors.New("storage key resolves outside configured root")
	ErrWrongArtifactKind = errors.New("wrong artifact kind for operation")
	ErrNotRetriable      = errors.New("item is not retriable")
)

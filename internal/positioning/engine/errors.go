package engine

import "errors"

var (
	// ErrNotInitialized is returned until a non-empty registry snapshot is loaded.
	ErrNotInitialized = errors.New("engine: positioning system not initialized")
	// ErrValidation marks rejected operator input.
	ErrValidation = errors.New("engine: invalid input")
	// ErrUnknownDevice marks a mac that is not tracked.
	ErrUnknownDevice = errors.New("engine: unknown device")
	// ErrNoPosition is returned for a tracked device without an estimate yet.
	ErrNoPosition = errors.New("engine: no position estimate")
	// ErrClosed is returned once the engine loop has stopped.
	ErrClosed = errors.New("engine: closed")
)

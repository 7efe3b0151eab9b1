package engine

import "errors"

var (
	// ErrShutdown is returned by operations on an engine that has been shut down.
	ErrShutdown = errors.New("sync engine is shut down")
	// ErrNilQueue indicates New was called without a store.
	ErrNilQueue = errors.New("sync engine requires a queue store")
	// ErrNilDeliverer indicates New was called without a deliverer.
	ErrNilDeliverer = errors.New("sync engine requires a deliverer")
)

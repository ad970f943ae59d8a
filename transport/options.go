package transport

import (
	"go.uber.org/zap"

	"github.com/luma/ycommand/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT, it is required when
	// NumListeners is more than one.
	Reuseport bool

	// NumListeners defaults to the number of CPUs when Reuseport is set and
	// to one otherwise.
	NumListeners int

	// Keyring holds the consumer secrets used to verify SESSION CREATE
	Keyring Keyring

	Store storage.Store

	Log *zap.Logger
}

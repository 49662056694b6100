package xloop

import (
	"errors"
	"fmt"
)

type ErrUnknownLoop struct{ name string }

func (e ErrUnknownLoop) Error() string { return fmt.Sprintf("unknown loop: %s", e.name) }

var (
	ErrDefaultBusNotInitialized = errors.New("xloop default bus not initialized")
	ErrNoLoopConfigured         = errors.New("xloop: no loop configured")
	ErrBusClosed                = errors.New("xloop: bus closed")

	// ErrLoopNotCreated is returned by every operation on a loop that was never
	// created or has been destroyed. Posts fail immediately with it.
	ErrLoopNotCreated = errors.New("xloop: loop not created")
	// ErrQueueFull is returned when an attempt timed out against a full queue.
	ErrQueueFull = errors.New("xloop: queue full")
	// ErrHandlerTableFull is returned when the loop refuses further registrations.
	ErrHandlerTableFull = errors.New("xloop: handler table full")
	ErrInvalidCategory  = errors.New("xloop: invalid category")
	ErrInvalidEventID   = errors.New("xloop: invalid event id")
	ErrInvalidHandler   = errors.New("xloop: invalid handler")
	ErrInvalidConfig    = errors.New("xloop: invalid loop config")

	ErrHandlerPanic                = errors.New("xloop: handler panic")
	ErrObserverPoolShutdownTimeout = errors.New("xloop: observer pool shutdown timeout")
)

package xloop

import (
	"errors"
	"fmt"
	"sync"
)

// LoopFactory constructs loops from a config blob.
type LoopFactory func(cfg map[string]any) (Loop, error)

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	loopRegistryMu sync.RWMutex
	loopRegistry   = map[string]LoopFactory{}

	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterLoop registers a loop mode.
func RegisterLoop(name string, factory LoopFactory) error {
	if name == "" {
		return errors.New("loop name must not be empty")
	}
	if factory == nil {
		return errors.New("loop factory must not be nil")
	}
	loopRegistryMu.Lock()
	loopRegistry[name] = factory
	loopRegistryMu.Unlock()
	return nil
}

// NewLoop constructs a loop by name with config.
func NewLoop(name string, cfg map[string]any) (Loop, error) {
	loopRegistryMu.RLock()
	f, ok := loopRegistry[name]
	loopRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownLoop{name: name}
	}
	return f(cfg)
}

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

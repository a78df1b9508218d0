package routing

import "errors"

// ErrUnknownCategory is the only error Route returns to callers: the
// requested category has no routing table. Provider-side failures never
// surface as errors; they drive fallback and degradation instead.
var ErrUnknownCategory = errors.New("unknown routing category")

// errNotRegistered marks a configured provider missing from the registry.
// Config validation makes this unreachable in normal operation.
var errNotRegistered = errors.New("provider not registered")

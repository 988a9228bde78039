package container

import "errors"

// ErrInstantiation is returned when an id has no binding and cannot be
// autowired, mirroring the InstantiationError of §4.4.
var ErrInstantiation = errors.New("container: instantiation error")

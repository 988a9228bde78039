// Package envelope defines the wire shape carried by both the in-process
// channel queue (§4.7) and the cross-worker task subsystem (§4.6).
package envelope

// Envelope is a unit of deferred work: the container id of the task class
// to resolve, a correlation id, and its positional arguments.
type Envelope struct {
	Class     string
	ID        string
	Arguments []any
}

// Outcome is what a task publishes after running, consumed by the
// originating worker's finish handler.
type Outcome struct {
	Class     string
	ID        string
	Arguments []any
	Result    any
	Error     string
}

// New builds an Envelope.
func New(class, id string, args ...any) Envelope {
	return Envelope{Class: class, ID: id, Arguments: args}
}

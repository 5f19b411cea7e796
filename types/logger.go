package types

// Logger is the structured logger handed to every component. Messages are
// prefixed with the component name, e.g. "Coordinator: batch confirmed", and
// carry their context as key/value pairs.
type Logger interface {
	Errorw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	// Tracew is for per-message noise such as stream heartbeats.
	Tracew(msg string, keysAndValues ...interface{})
}

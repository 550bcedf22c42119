package log

// Logger is a sink for protocol events. The chiller engine and lamp
// model call Log from their poll loops, so implementations must be
// safe for concurrent use and should return promptly.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event. Its zero value is ready to use.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

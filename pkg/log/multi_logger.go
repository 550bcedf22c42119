package log

// MultiLogger fans an event out to several sinks, e.g. a FileLogger
// for later analysis plus a SlogAdapter for live debugging.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a MultiLogger over the given sinks.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log implements Logger.
func (m *MultiLogger) Log(event Event) {
	for _, sink := range m.sinks {
		sink.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)

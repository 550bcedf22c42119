// Package log provides structured protocol event logging for the
// white light source.
//
// Events capture raw chiller frames, decoded commands, device state
// changes, and errors at every layer. The Logger interface decouples
// event production from storage: FileLogger persists events as CBOR
// for later analysis, SlogAdapter mirrors them to a slog.Logger for
// development, and MultiLogger fans out to several sinks at once.
package log

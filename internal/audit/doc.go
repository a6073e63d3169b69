// Package audit implements asynchronous delivery of security events.
//
// The Engine decides which events to emit; this package only buffers
// them and hands them to a Sink. Sinks that perform network I/O (see
// notify/natsbus) run on the dispatcher goroutine, never on a request path.
package audit

// Package logging is the gateway's shared structured logging facility.
//
// Every subsystem (store, transport, dispatcher, ...) logs through
// Debug/Info/Warn/Error with its own name as the subsystem tag, so a single
// log stream can be filtered per component. Audit events use a distinct
// [AUDIT] prefix for compliance tooling that tails the same stream.
package logging

// Package audit records security-relevant authentication events: OAuth
// logins, SAML sign-ins, identity link changes and logouts.
//
// Events are written through a Logger. FileLogger appends JSON lines with
// size-based rotation, DBLogger inserts into the audit_events table and
// MultiLogger fans out to several sinks. Audit failures are logged and never
// fail the request that produced the event.
//
// Usage:
//
//	logger := audit.NewMultiLogger(dbLogger, fileLogger)
//	audit.Emit(ctx, logger, audit.NewEvent(r, audit.EventSAMLLink, audit.StatusSuccess))
package audit

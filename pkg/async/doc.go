// Package async runs fire-and-forget background work from request handlers.
//
// SafeGo detaches the task from the request's cancellation, bounds it with a
// timeout and recovers panics. Tracker does the same but lets the process wait
// for in-flight tasks during shutdown.
package async

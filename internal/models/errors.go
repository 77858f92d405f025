package models

import "errors"

// Sentinel errors shared across the orchestrator, detector and booking engine.
// Boundary code converts these into {success:false, error} responses; they are
// never allowed to cross the message channel as raised faults.
var (
	ErrNotInitialized    = errors.New("engine not initialized")
	ErrElementNotFound   = errors.New("element not found within timeout")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrParseFailure      = errors.New("all parsing strategies exhausted")
	ErrQuotaExceeded     = errors.New("rebook quota exceeded, upgrade your plan to book more slots")
	ErrMonitorNotFound   = errors.New("monitor not found")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrBookingInProgress = errors.New("a booking is already in progress for this monitor")
)

// Package events carries relay state changes (link, session, output) from
// the supervisory loop to history, telemetry and live API clients without
// letting a slow consumer stall the loop.
package events

// Package session keeps the relay's broker session alive.
//
// A Manager connects with a fixed client identifier, subscribes to the
// control topic each time a new connection is accepted, and hands inbound
// messages to a control handler when Pump is called. The broker does not
// keep subscriptions across clean sessions, so every reconnect subscribes
// again.
//
// Session states:
//
//	Disconnected --connect+subscribe--> Connected
//	Connected --transport reports closed--> Disconnected
package session

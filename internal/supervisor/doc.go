// Package supervisor drives the relay's connectivity cycle.
//
// Every cycle checks the WiFi link first, then the broker session, then
// pumps inbound control messages, in that order. Cycles are rate limited
// to one per interval (2s by default), which also bounds how often
// inbound messages are serviced.
//
//	sup := supervisor.New(linkMgr, sessionMgr, supervisor.Config{}, logger, time.Now())
//	go sup.Run(ctx)
package supervisor

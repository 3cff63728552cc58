// Package control turns control-topic payloads into output levels.
//
// The wire contract: "1" switches the output on,
// "0" switches it off, and every other payload leaves it unchanged.
//
// Usage:
//
//	h := control.NewHandler(pin, control.Low, logger, bus)
//	h.OnControlMessage("topic_on_off_led", "1") // pin is now High
package control

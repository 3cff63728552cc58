// Package gpio provides the relay's output line.
//
// LinePin uses the Linux GPIO character device (/dev/gpiochipN) through
// go-gpiocdev. MemoryPin is an in-process stand-in for hosts without GPIO.
package gpio

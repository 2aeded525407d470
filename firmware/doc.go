// Package firmware is the device side of the line protocol: an entropy
// engine that mixes OS randomness with timing jitter and two ambient ring
// buffers, forges keys from host-supplied pools, streams TRNG frames on a
// timer and answers the command set the host speaks over the serial link.
//
// The engine is transport agnostic. It reads command lines from a channel
// and writes responses to an io.Writer; cmd/devicesim binds it to a serial
// port or to stdio.
package firmware

// Package source contains the entropy producers that feed the pool:
// keystroke and mouse timing, host OS randomness, and raw entropy devices
// (the TrueRNG serial stick and a seeded pseudo generator for simulation).
// BitBabbler sticks need libusb and live in package bbusb.
//
// Every input is condensed into a 16-byte pool chunk with BLAKE2b over a
// high resolution counter, the input itself and a few bytes of OS
// randomness, so that no raw input byte reaches the pool directly.
package source

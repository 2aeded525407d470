// Package pqc wraps classical keys with post-quantum primitives.
//
// The primitives are reached through Provider, an opaque capability. Absent
// is the explicit "no capability" provider; Circl is backed by ML-KEM-512
// and ML-DSA-44 from cloudflare/circl. Two strategies use a provider: KEMWrap
// conceals the key with an encapsulated shared secret, SignWrap leaves the
// key intact and attaches a detached signature. A Wrapper tries strategies in
// order and reports every failure.
package pqc

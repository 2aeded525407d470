// Package stattest implements the statistical battery used to audit an
// entropy pool before a key is derived from it: frequency, runs, Shannon
// entropy, chi-square, compression ratio, a simplified NIST block-frequency
// test and a longest-run test, combined into a weighted score.
//
// All test functions are pure. Auditor adds a bounded history of results
// for trend reporting.
package stattest

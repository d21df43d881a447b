// Package testutil provides test utilities for sfbulk, including:
//   - An in-process fake of the remote query service (fakesf.go)
//   - Miniredis helpers for the redis state backend (miniredis.go)
//
// Neither helper needs network access or Docker.
package testutil

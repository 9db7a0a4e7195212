// Package types holds what the fixtures need from a test, so they also accept test
// objects from runners other than the testing package.
package types

import "gotest.tools/v3/assert"

// TestingTB is the subset of testing.TB the fixtures use.
type TestingTB interface {
	assert.TestingT
	Helper()
	Name() string
	Cleanup(func())
	Skip(args ...interface{})
	Fatal(args ...interface{})
}

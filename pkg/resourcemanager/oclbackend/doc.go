//go:build ocl

// Package oclbackend implements resourcemanager.Backend against real
// OpenCL devices through cgo. It only builds with the ocl tag (go build
// -tags ocl ./...); the default build uses simbackend instead, which
// emulates the same interface on the host CPU so the rest of this module
// never has to special-case a missing GPU.
package oclbackend

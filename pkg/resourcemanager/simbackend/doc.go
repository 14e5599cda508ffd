// Package simbackend implements resourcemanager.Backend entirely in Go,
// with no cgo and no real device. It exists so the pipeline runs on any
// build host: every device is a goroutine-backed in-order queue, kernels
// are a small built-in table of CPU functions keyed by the entry-point
// name a program declares, and completion events are channels closed once
// their queued job runs.
package simbackend

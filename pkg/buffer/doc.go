// Package buffer implements the dual-resident image tile (host/device) that
// flows along every task-graph edge, including its terminal finish
// sentinel. See buffer.go for the migration and residency rules.
package buffer

/*
Package types holds the small value types shared across the pipeline
packages (tile dimensions, residency location, task kind, and the
requisition descriptor) so buffer, graph, task, resourcemanager, and
scheduler don't redeclare them against each other.
*/
package types

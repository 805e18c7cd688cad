// Package job defines the unit-of-work model: the QueuedJob entity, live
// Status values, typed job definitions with a type-erased registry, and
// the Services capability bag handed to handlers at execution time.
package job

// Package store holds the client side copies of remote collections.
//
// A Collection keeps the last fetched items together with a validity flag
// and the time of the last fetch. All operations are synchronous, perform no
// remote I/O and never return errors. Reads are served from the collection
// while it is valid; writes elsewhere flip it back to invalid so the next
// read goes to the backend.
//
// Domain stores bind their collections to a Persister so the state survives
// a restart. The persisted form is a versioned msgpack envelope stored under
// a fixed key in a Storage backend.
package store

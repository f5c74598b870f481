// Package querycache binds a store collection, the TTL cache and a remote
// table into a single resource with read-through loads and optimistic writes.
//
// Reads
//
// Resource.Load serves the collection while it is valid for the same
// criteria. Otherwise it goes through the cache, keyed by the resource
// namespace and the criteria, and replaces the collection with the result.
// A failed read logs, returns the error and leaves the previous (stale)
// collection in place.
//
// Writes
//
// Create, Update and Delete follow the same sequence:
//
//  1. apply the change to the collection so the UI sees it immediately
//  2. issue the remote write
//  3. invalidate the collection and every cache key the resource tracked
//
// On failure the error is logged, reported through the Reporter and
// returned. No snapshot is restored: invalidation makes the next read fetch
// server truth, which overwrites the optimistic change. The per id
// MutationState records where each write ended.
//
// Tags
//
// Every key a resource reads is registered under the resource namespace in a
// Registry. Cached reads elsewhere can join that namespace (or any other tag)
// with WithCacheTags, so a write on the resource also drops them.
package querycache

// Package remote describes the boundary to the hosted backend: row tables,
// authentication and object storage. Every call may block on the network and
// may fail; callers never assume ordering between concurrent completions.
//
// Errors crossing the boundary are classified into three groups so the state
// layer can decide what to do with them:
//
//   - transport failures (retryable, CategoryExternal)
//   - errors reported by the backend (constraint, missing row, bad input)
//   - local logic errors raised before any request is issued
package remote

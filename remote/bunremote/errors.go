package bunremote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	goerrors "github.com/goliatone/go-errors"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-wedding-cache/remote"
)

// classify maps driver errors onto the remote error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if classified(err) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isNoRows(err):
		return remote.NotFound(op)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return remote.Transport(err, op)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23":
			return remote.Reported(err, goerrors.CategoryConflict, op)
		case "08", "53", "57":
			return remote.Transport(err, op)
		}
		return remote.Reported(err, goerrors.CategoryBadInput, op)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrConstraint:
			return remote.Reported(err, goerrors.CategoryConflict, op)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return remote.Transport(err, op)
		}
		return remote.Reported(err, goerrors.CategoryBadInput, op)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return remote.Transport(err, op)
	}

	if goerrors.IsCategory(err, goerrors.CategoryConflict) {
		return remote.Reported(err, goerrors.CategoryConflict, op)
	}
	return remote.Reported(err, goerrors.CategoryOperation, op)
}

// classified reports whether err already carries a remote text code.
// Repository errors are rich too but are mapped like driver errors.
func classified(err error) bool {
	switch remote.TextCode(err) {
	case remote.TextCodeTransport, remote.TextCodeNotFound, remote.TextCodeConflict,
		remote.TextCodeRejected, remote.TextCodeMissingRelated,
		remote.TextCodeNotAuthenticated, remote.TextCodeInvalidLogin:
		return true
	}
	return false
}

// isNoRows matches sql.ErrNoRows and not found errors from the repository.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || goerrors.IsCategory(err, goerrors.CategoryNotFound)
}

package coordinator

import "errors"

var (
	// ErrSessionExists is returned when a session is requested while one
	// exists or is being created.
	ErrSessionExists = errors.New("session already exists")
	// ErrNoSession is returned by operations that need a session.
	ErrNoSession = errors.New("no session")
	// ErrSyncDeferred resolves a sync completion requested without a
	// session. The sync runs once a session exists.
	ErrSyncDeferred = errors.New("sync deferred until a session exists")
	// ErrSessionClosed resolves operations still pending when the session
	// is closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrBusy is returned when an operation of the same kind is running.
	ErrBusy = errors.New("operation already running")
	// ErrNoCredentials is returned when no stored account can be signed in.
	ErrNoCredentials = errors.New("no stored credentials")
)

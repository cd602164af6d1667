package hub

import "github.com/juju/errors"

var (
	// ErrClosing rejects operations on a session after Close.
	ErrClosing = errors.New("session closing")

	// ErrConfigureTimeout: the transport did not confirm configuration
	// delivery within the caller's budget. The peer is likely not
	// accepting connections yet. Retrying Configure is safe.
	ErrConfigureTimeout = errors.Timeoutf("configure delivery")

	// ErrKeepAliveTimeout: the peer stopped replying to pings. It will
	// also stop publishing on its own timeout, so the session is dead;
	// tear it down and build a new one.
	ErrKeepAliveTimeout = errors.Timeoutf("keepalive reply")
)

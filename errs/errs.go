// Package errs defines the client-facing protocol errors reported as
// {"type":"error","error":<msg>} frames (spec section 7). Any error
// returned from connection handling that is not a ClientError is masked as
// ErrInternal before being sent to the client, except the relay package's
// internal crowding sentinel, which is reported as ErrCrowded.
package errs

// ClientError is a protocol-level error safe to report to the client
// verbatim via its Error() text.
type ClientError struct {
	msg string
}

func (e ClientError) Error() string { return e.msg }

func newClientError(msg string) ClientError {
	return ClientError{msg: msg}
}

var (
	ErrMissingType = newClientError("missing 'type'")
	ErrUnknownType = newClientError("unknown type")

	ErrBindFirst = newClientError("must bind first")
	ErrBindAppID = newClientError("bind requires 'appid'")
	ErrBindSide  = newClientError("bind requires 'side'")
	ErrBound     = newClientError("already bound")

	ErrPingRequired = newClientError("ping requires 'ping'")

	ErrClaimNameplate   = newClientError("claim requires 'nameplate'")
	ErrAlreadyAllocated = newClientError("you already allocated one, don't be greedy")
	ErrAlreadyClaimed   = newClientError("only one claim per connection")

	ErrReleaseNotClaimed = newClientError("must claim a nameplate before releasing it")
	ErrReleaseNameplate  = newClientError("release nameplate does not match the one you claimed")
	ErrAlreadyReleased   = newClientError("already released")

	ErrOpenMailbox   = newClientError("open requires 'mailbox'")
	ErrAlreadyOpened = newClientError("you already have a mailbox open")

	ErrOpenFirst = newClientError("must open mailbox before adding")
	ErrAddPhase  = newClientError("missing 'phase'")
	ErrAddBody   = newClientError("missing 'body'")

	ErrCloseOpenFirst = newClientError("must open mailbox before closing")
	ErrCloseMailbox   = newClientError("close mailbox does not match the one you opened")
	ErrAlreadyClosed  = newClientError("already closed")

	ErrCrowded  = newClientError("crowded")
	ErrInternal = newClientError("internal error")
)

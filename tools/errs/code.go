package errs

// Taxonomy codes for everything the realtime core can reject or fail with.
// DuplicateSession is intentionally absent: a same user+device reconnect is
// resolved by evicting the old session, never reported to the new one.
const (
	CodeInvalidInput       = 1002
	CodeNotAuthorized      = 1003
	CodeNotFound           = 1004
	CodeNotActive          = 1005
	CodePersistenceFailure = 1500
	CodePeerLookupFailure  = 1501
	CodeServerInternal     = 1900
)

var (
	ErrInvalidInput       = NewCodeError(CodeInvalidInput, "invalid input")
	ErrNotAuthorized      = NewCodeError(CodeNotAuthorized, "not authorized")
	ErrNotFound           = NewCodeError(CodeNotFound, "not found")
	ErrNotActive          = NewCodeError(CodeNotActive, "not connected to conversation")
	ErrPersistenceFailure = NewCodeError(CodePersistenceFailure, "persistence failure")
	ErrPeerLookupFailure  = NewCodeError(CodePeerLookupFailure, "peer lookup failure")
	ErrServerInternal     = NewCodeError(CodeServerInternal, "server internal error")
)

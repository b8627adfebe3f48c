package protocol

import "errors"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnauthorized    = "E_UNAUTHORIZED"

	// Board rules.
	ErrInvalidExpansion = "E_INVALID_EXPANSION"
	ErrCellConflict     = "E_CELL_CONFLICT"
	ErrOutOfBounds      = "E_OUT_OF_BOUNDS"
	ErrNotFound         = "E_NOT_FOUND"

	// Sync and relay.
	ErrUnmatchedToken   = "E_UNMATCHED_TOKEN"
	ErrChainRead        = "E_CHAIN_READ"
	ErrRelayUnavailable = "E_RELAY_UNAVAILABLE"
	ErrInternal         = "E_INTERNAL"
)

// Coded is implemented by errors that carry one of the codes above.
type Coded interface {
	ErrorCode() string
}

// CodeOf returns the code of the first Coded error in err's chain, ErrInternal
// when there is none, and "" for a nil error.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrInternal
}

// CodedError is a sentinel error with a fixed code. Compare with errors.Is.
type CodedError struct {
	Code string
	Msg  string
}

func NewCodedError(code, msg string) *CodedError {
	return &CodedError{Code: code, Msg: msg}
}

func (e *CodedError) Error() string     { return e.Msg }
func (e *CodedError) ErrorCode() string { return e.Code }

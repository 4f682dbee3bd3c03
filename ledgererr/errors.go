// Package ledgererr defines the error taxonomy shared by the ledger, store,
// p2p, and node packages. Every kind is a distinct, comparable value so
// callers can branch with errors.Is instead of string matching.
package ledgererr

import "fmt"

type Code string

const (
	StoreIO        Code = "STORE_IO"
	InvalidBlock   Code = "INVALID_BLOCK"
	DuplicateHeight Code = "DUPLICATE_HEIGHT"
	InvalidChain   Code = "INVALID_CHAIN"
	KeyConflict    Code = "KEY_CONFLICT"
	NotFound       Code = "NOT_FOUND"
	NoLocalKey     Code = "NO_LOCAL_KEY"
	SignatureInvalid Code = "SIGNATURE_INVALID"
	EncodingError  Code = "ENCODING_ERROR"
	FramingError   Code = "FRAMING_ERROR"
	MessageTooLarge Code = "MESSAGE_TOO_LARGE"
	PeerProtocol   Code = "PEER_PROTOCOL"
	PeerTimeout    Code = "PEER_TIMEOUT"
	AddressParse   Code = "ADDRESS_PARSE"
)

// Error is the concrete error type carried through the core. Height is
// the block height an AtHeight error refers to (used for InvalidBlock,
// InvalidChain, DuplicateHeight and SignatureInvalid); it is -1 for
// errors built with New, Newf or Sentinel.
type Error struct {
	Code   Code
	Msg    string
	Height int64
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Height >= 0 {
		return fmt.Sprintf("%s at height %d: %s", e.Code, e.Height, e.Msg)
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is lets errors.Is(err, ledgererr.New(code, "")) match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg, Height: -1}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Height: -1}
}

func AtHeight(code Code, height int64, msg string) error {
	return &Error{Code: code, Msg: msg, Height: height}
}

// Sentinel returns an error value suitable for errors.Is comparisons
// against a particular code, e.g. errors.Is(err, ledgererr.Sentinel(ledgererr.NotFound)).
func Sentinel(code Code) error {
	return &Error{Code: code, Height: -1}
}

package ctrl

import "fmt"

// ErrorType is the reason code carried by an ERROR control message.
type ErrorType uint32

const (
	ErrorNone              ErrorType = 0
	ErrorMalformedAddress  ErrorType = 1
	ErrorFlood             ErrorType = 2
	ErrorLinkLimitExceeded ErrorType = 3
	ErrorOversizeMessage   ErrorType = 4
	ErrorUndersizeMessage  ErrorType = 5
	ErrorAuthentication    ErrorType = 6
	ErrorInvalid           ErrorType = 7
	ErrorUndeliverable     ErrorType = 8
	ErrorLoopRoute         ErrorType = 9
	ErrorReturnPathInvalid ErrorType = 10
)

var errorTypeNames = [...]string{
	"NONE",
	"MALFORMED_ADDRESS",
	"FLOOD",
	"LINK_LIMIT_EXCEEDED",
	"OVERSIZE_MESSAGE",
	"UNDERSIZE_MESSAGE",
	"AUTHENTICATION",
	"INVALID",
	"UNDELIVERABLE",
	"LOOP_ROUTE",
	"RETURN_PATH_INVALID",
}

func (t ErrorType) String() string {
	if int(t) < len(errorTypeNames) {
		return errorTypeNames[t]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

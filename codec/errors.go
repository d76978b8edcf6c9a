package codec

import (
	"fmt"

	"github.com/layer-3/walletlink/core"
)

// MalformedError reports a request string that cannot be decoded. ID is the
// request id when the envelope got far enough to carry one, otherwise 0.
type MalformedError struct {
	ID     int64
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %s", core.ErrMalformedCommand, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return core.ErrMalformedCommand
}

func malformed(id int64, format string, args ...any) error {
	return &MalformedError{ID: id, Reason: fmt.Sprintf(format, args...)}
}

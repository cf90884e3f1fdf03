package processor

import (
	"errors"
	"fmt"

	"github.com/fieldlens/analysis-queue/internal/domain"
)

// OpFetch marks a failure to read the artifact from its media source. The
// backend was never reached, so such failures say nothing about its health.
const OpFetch = "fetch"

// AdapterError is a failure raised by a backend adapter. Processor
// attributes the failure for health accounting.
type AdapterError struct {
	Processor  domain.ProcessorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s adapter %s: status %d: %v", e.Processor, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s adapter %s: %v", e.Processor, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Remote reports whether the failure is attributed to the remote processor.
func (e *AdapterError) Remote() bool {
	return e.Processor == domain.ProcessorRemote && e.Op != OpFetch
}

// IsRemoteFailure reports whether err carries an AdapterError attributed to remote.
func IsRemoteFailure(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Remote()
}

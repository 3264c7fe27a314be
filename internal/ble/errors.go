package ble

import (
	"errors"
	"fmt"

	"github.com/chaz8081/blenetcfg/internal/ble/protocol"
)

var (
	ErrAdapterUnavailable    = errors.New("ble: adapter unavailable")
	ErrScanInProgress        = errors.New("ble: scan already in progress")
	ErrDeviceNotFound        = errors.New("ble: device not seen in last scan")
	ErrAlreadyConnected      = errors.New("ble: already connected")
	ErrConnectFailed         = errors.New("ble: connect failed")
	ErrConnectTimeout        = errors.New("ble: connect timed out")
	ErrCharacteristicMissing = errors.New("ble: required characteristic missing")
	ErrNotConnected          = errors.New("ble: not connected")
	ErrStepTimeout           = errors.New("ble: step timed out")
	ErrAborted               = errors.New("ble: provisioning aborted")
	ErrInvalidArgument       = errors.New("ble: invalid argument")
	ErrSessionActive         = errors.New("ble: provisioning session already active")
)

// ErrMalformedNotification is re-exported so callers need only import ble.
var ErrMalformedNotification = protocol.ErrMalformedNotification

// StepFailureError reports a PROVISION_FAILURE status received during a step.
type StepFailureError struct {
	Step   Step
	Record protocol.StatusRecord
}

func (e *StepFailureError) Error() string {
	return fmt.Sprintf("ble: device reported failure during %s: %s", e.Step, e.Record)
}

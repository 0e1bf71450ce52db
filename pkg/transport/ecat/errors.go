package ecat

import "github.com/ingenialink/gomcb"

// workingCounterError wraps a raw EtherCAT working-counter value into the
// taxonomy's WorkingCounterError, covering the NO_RESPONSE/NO_FRAME/TIMEOUT
// sub-cases the EtherCAT mailbox reports.
func workingCounterError(code int) error {
	return &gomcb.WorkingCounterError{Code: gomcb.WorkingCounterCode(code)}
}

package servo

import "github.com/ingenialink/gomcb"

// State is one of the eight CiA 402 power-drive-system states.
type State uint8

const (
	NotReady State = iota
	Disabled
	ReadyToSwitchOn
	SwitchedOn
	Enabled
	QuickStopActive
	FaultReactive
	Fault
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not_ready_to_switch_on"
	case Disabled:
		return "switch_on_disabled"
	case ReadyToSwitchOn:
		return "ready_to_switch_on"
	case SwitchedOn:
		return "switched_on"
	case Enabled:
		return "operation_enabled"
	case QuickStopActive:
		return "quick_stop_active"
	case FaultReactive:
		return "fault_reaction_active"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

type statusRule struct {
	mask, expect uint16
	state        State
}

// statusWordRules is checked in order; the first match wins.
var statusWordRules = []statusRule{
	{0x4F, 0x00, NotReady},
	{0x4F, 0x40, Disabled},
	{0x6F, 0x21, ReadyToSwitchOn},
	{0x6F, 0x23, SwitchedOn},
	{0x6F, 0x27, Enabled},
	{0x6F, 0x07, QuickStopActive},
	{0x4F, 0x0F, FaultReactive},
	{0x4F, 0x08, Fault},
}

// DecodeStatusWord is a pure function mapping a CiA 402 status word to
// exactly one State, applying the masked comparisons in order; the first
// match wins.
func DecodeStatusWord(sw uint16) State {
	for _, rule := range statusWordRules {
		if sw&rule.mask == rule.expect {
			return rule.state
		}
	}
	return NotReady
}

// controlWordFor computes the control-word command to apply from the
// current state toward Enabled. ok is false when no single command
// advances the machine from this state
// (Enabled itself, or an unreachable transient state).
func controlWordFor(state State) (cw uint16, ok bool) {
	switch state {
	case Disabled:
		return gomcb.ControlWordShutdown, true
	case ReadyToSwitchOn:
		return gomcb.ControlWordSwitchOn, true
	case SwitchedOn:
		return gomcb.ControlWordEnableOperation, true
	case Fault, FaultReactive:
		return 1 << gomcb.ControlWordFaultResetBitPos, true
	default:
		return 0, false
	}
}

package model

// Condition compares a written pin value against a rule threshold.
type Condition string

const (
	CondGT  Condition = ">"
	CondGTE Condition = ">="
	CondLT  Condition = "<"
	CondLTE Condition = "<="
	CondEQ  Condition = "="
	CondNEQ Condition = "!="
)

// Matches reports whether value satisfies the condition against threshold.
func (c Condition) Matches(value, threshold float64) bool {
	switch c {
	case CondGT:
		return value > threshold
	case CondGTE:
		return value >= threshold
	case CondLT:
		return value < threshold
	case CondLTE:
		return value <= threshold
	case CondEQ:
		return value == threshold
	case CondNEQ:
		return value != threshold
	default:
		return false
	}
}

// RuleAction sets a pin on a device when its rule triggers.
type RuleAction struct {
	DeviceID int     `json:"deviceId"`
	Type     PinType `json:"pinType"`
	Pin      uint8   `json:"pin"`
	Value    string  `json:"value"`
}

// Rule is a threshold condition on one pin that triggers a set-pin action.
type Rule struct {
	Name      string     `json:"name"`
	DeviceID  int        `json:"deviceId"`
	Type      PinType    `json:"pinType"`
	Pin       uint8      `json:"pin"`
	Condition Condition  `json:"condition"`
	Threshold float64    `json:"threshold"`
	Action    RuleAction `json:"action"`
}

// AppliesTo reports whether the rule watches the given pin.
func (r *Rule) AppliesTo(deviceID int, t PinType, pin uint8) bool {
	return r.DeviceID == deviceID && r.Type == t && r.Pin == pin
}

// Webhook is a user-configured HTTP hook attached to one pin. The literal
// "%s" in URL and Body is replaced with the written value.
type Webhook struct {
	DeviceID int     `json:"deviceId"`
	Type     PinType `json:"pinType"`
	Pin      uint8   `json:"pin"`
	URL      string  `json:"url"`
	Method   string  `json:"method"`
	Body     string  `json:"body"`
}

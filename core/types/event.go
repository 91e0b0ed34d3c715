package types

// Event is the attribute payload every engine event carries: a dotted type
// name (e.g. "sale.purchase") plus flat string attributes. Amounts are
// decimal strings and addresses hex, so events serialize losslessly to JSON
// and log sinks.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute, or the empty string when absent.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

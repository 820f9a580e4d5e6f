package lib

import "gorm.io/gorm"

type SelectorKind int

const (
	ByUser SelectorKind = iota
	ByDevice
	ByEndpoint
)

func (k SelectorKind) String() string {
	switch k {
	case ByUser:
		return "user"
	case ByDevice:
		return "device"
	case ByEndpoint:
		return "endpoint"
	}
	return "unknown"
}

// Selector picks the subscription rows an unregister call removes.
type Selector struct {
	Kind  SelectorKind
	Value string
}

func (s Selector) column() string {
	switch s.Kind {
	case ByUser:
		return "user_id"
	case ByDevice:
		return "device_id"
	default:
		return "endpoint"
	}
}

func (s Selector) scope(db *gorm.DB) *gorm.DB {
	return db.Where(s.column()+" = ?", s.Value)
}

// UnregisterSelectors returns the selectors that are present, in the order
// they are tried: user, then device, then endpoint.
func UnregisterSelectors(userID, deviceID, endpoint string) []Selector {
	candidates := []Selector{
		{ByUser, userID},
		{ByDevice, deviceID},
		{ByEndpoint, endpoint},
	}
	out := make([]Selector, 0, len(candidates))
	for _, sel := range candidates {
		if sel.Value != "" {
			out = append(out, sel)
		}
	}
	return out
}

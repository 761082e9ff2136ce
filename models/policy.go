package models

// PolicyTier names a cancellation refund schedule.
type PolicyTier string

const (
	PolicyFlexible PolicyTier = "flexible"
	PolicyModerate PolicyTier = "moderate"
	PolicyStrict   PolicyTier = "strict"
)

// IsKnown reports whether the tier has a configured refund table.
func (t PolicyTier) IsKnown() bool {
	switch t {
	case PolicyFlexible, PolicyModerate, PolicyStrict:
		return true
	}
	return false
}

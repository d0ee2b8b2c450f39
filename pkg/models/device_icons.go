package models

// PriorityMarker maps a Priority to the marker shown in front of alert
// titles. Chat clients render these as colored circles.
var PriorityMarker = map[Priority]string{
	PriorityCritical: "🔴",
	PriorityHigh:     "🟠",
	PriorityMedium:   "🟡",
	PriorityLow:      "🔵",
}

// Marker returns the alert marker for a Priority.
// Returns the low-priority marker for unrecognised values.
func (p Priority) Marker() string {
	if m, ok := PriorityMarker[p]; ok {
		return m
	}
	return PriorityMarker[PriorityLow]
}

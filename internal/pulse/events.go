package pulse

// Event topics published by the round scheduler. The payload is *Alert.
const (
	TopicAlertTriggered = "pulse.alert.triggered"
	TopicAlertResolved  = "pulse.alert.resolved"
)

package topic

import "fmt"

// PrefixHome is the root of the smart-home topic namespace exercised by the test suites.
const PrefixHome = "home"

// Telemetry returns the topic a device publishes sensor readings on.
//
// Example: home/device123/telemetry
func Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/telemetry", PrefixHome, deviceID)
}

// Command returns the topic a device receives commands on.
//
// Example: home/device123/command
func Command(deviceID string) string {
	return fmt.Sprintf("%s/%s/command", PrefixHome, deviceID)
}

// Status returns the topic a device reports its online state on.
//
// Example: home/device123/status
func Status(deviceID string) string {
	return fmt.Sprintf("%s/%s/status", PrefixHome, deviceID)
}

// AutomationEvents returns the topic automation rules emit events on.
func AutomationEvents() string {
	return PrefixHome + "/events/automation"
}

// AllTelemetry returns a filter covering telemetry from every device.
func AllTelemetry() string {
	return Telemetry(singleWildcard)
}

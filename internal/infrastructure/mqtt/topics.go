package mqtt

import "fmt"

// TopicPrefix is the root of every badgelink topic.
//
// Bridge topics use the flat scheme badgelink/{category}/{bridge}/{name}.
const TopicPrefix = "badgelink"

// Topics builds badgelink MQTT topics.
//
//	mqtt.Topics{}.Command("cloner", "scan")  // badgelink/command/cloner/scan
type Topics struct{}

// Command is where clients send commands to a bridge.
func (Topics) Command(bridge, command string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, bridge, command)
}

// Ack is where a bridge acknowledges a command.
func (Topics) Ack(bridge, command string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, bridge, command)
}

// State carries retained bridge state such as the last scanned badge.
func (Topics) State(bridge, name string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, bridge, name)
}

// Health carries retained bridge health.
func (Topics) Health(bridge string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridge)
}

// Event carries one-shot domain events.
func (Topics) Event(name string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, name)
}

// SystemStatus carries the service's online/offline status and LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches every command for one bridge.
func (Topics) AllCommands(bridge string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, bridge)
}

// AllTopics matches everything under the prefix. Debugging only.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

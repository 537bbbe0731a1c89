package mqtt

import (
	"fmt"
	"strings"
)

// Topic namespaces.
const (
	// TopicPrefix is the root of every chargegate topic.
	TopicPrefix = "chargegate"

	// TopicPrefixSystem is the base for gateway presence topics.
	TopicPrefixSystem = "chargegate/system"
)

// Topics builds chargegate topic names.
//
//	topic, err := mqtt.Topics{}.Command("ocpp1.6j", "CP-001")
//	// chargegate/command/ocpp1.6j/CP-001
type Topics struct{}

// Command returns the topic a bridge listens on for one charge box.
// Both values must be valid topic segments.
func (Topics) Command(protocol, chargeBoxID string) (string, error) {
	for _, seg := range []string{protocol, chargeBoxID} {
		if !ValidSegment(seg) {
			return "", fmt.Errorf("%w: %q", ErrInvalidSegment, seg)
		}
	}
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, chargeBoxID), nil
}

// AllCommands matches the command topics of every charge box on protocol.
func (Topics) AllCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// Result returns the topic a bridge reports a task outcome on.
func (Topics) Result(protocol string, taskID int) string {
	return fmt.Sprintf("%s/result/%s/%d", TopicPrefix, protocol, taskID)
}

// AllResults matches every task outcome from every bridge.
func (Topics) AllResults() string {
	return TopicPrefix + "/result/+/+"
}

// BridgeHealth returns the presence topic of a protocol bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// SystemStatus returns the retained gateway presence topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ValidSegment reports whether s can be used as a single topic level in a
// publish topic: non-empty, no level separator, no wildcard and no NUL.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}

// ParseResult splits a result topic into its protocol and task id segment.
// ok is false when topic is not a result topic.
func ParseResult(topic string) (protocol, taskID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "result" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

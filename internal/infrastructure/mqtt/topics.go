package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "hmip"

// Topics builds the bridge's MQTT topic tree under a configurable prefix:
//
//	<prefix>/status                           bridge online/offline (retained)
//	<prefix>/state/<endpoint>/<characteristic> current value (retained)
//	<prefix>/set/<endpoint>/<characteristic>   write request
//	<prefix>/get/<endpoint>/<characteristic>   read request
//	<prefix>/ack/<endpoint>                    write outcome
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder rooted at prefix.
// Leading and trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the topic tree.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status returns the bridge status topic.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// State returns the retained state topic for one characteristic.
func (t Topics) State(endpointID, characteristic string) string {
	return t.join("state", endpointID, characteristic)
}

// Set returns the write request topic for one characteristic.
func (t Topics) Set(endpointID, characteristic string) string {
	return t.join("set", endpointID, characteristic)
}

// Get returns the read request topic for one characteristic.
func (t Topics) Get(endpointID, characteristic string) string {
	return t.join("get", endpointID, characteristic)
}

// Ack returns the write acknowledgement topic for an endpoint.
func (t Topics) Ack(endpointID string) string {
	return t.join("ack", endpointID)
}

// AllSets matches every write request.
func (t Topics) AllSets() string {
	return t.join("set", "+", "+")
}

// AllGets matches every read request.
func (t Topics) AllGets() string {
	return t.join("get", "+", "+")
}

// ParseRequest splits a set or get topic into its verb, endpoint and characteristic.
// ok is false for topics outside the prefix or with an unexpected shape.
func (t Topics) ParseRequest(topic string) (verb, endpointID, characteristic string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	switch parts[0] {
	case "set", "get":
		return parts[0], parts[1], parts[2], true
	default:
		return "", "", "", false
	}
}

func (t Topics) join(parts ...string) string {
	return t.prefix + "/" + strings.Join(parts, "/")
}

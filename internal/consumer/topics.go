package consumer

import "fmt"

const dltSuffix = ".DLT"

// DLTName returns the dead-letter topic for topic, e.g. OrderRejected.DLT.
func DLTName(topic string) string {
	return topic + dltSuffix
}

// GroupID returns the consumer group used for topic.
func GroupID(prefix string, topic string) string {
	if prefix == "" {
		return topic
	}
	return fmt.Sprintf("%s-%s", prefix, topic)
}

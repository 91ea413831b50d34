package consumer

import (
	"fmt"
	"strings"

	"github.com/Shopify/sarama"
)

// NewSaramaConfig returns the client configuration shared by consumers and
// the dead-letter producer. Offsets are committed manually.
func NewSaramaConfig(version, clientID string) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if strings.TrimSpace(clientID) != "" {
		cfg.ClientID = clientID
	}
	if strings.TrimSpace(version) != "" {
		v, err := sarama.ParseKafkaVersion(version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", version, err)
		}
		cfg.Version = v
	}

	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	return cfg, nil
}

// NewGroupFactory opens consumer groups against brokers with cfg.
func NewGroupFactory(brokers []string, cfg *sarama.Config) GroupFactory {
	return func(groupID string) (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(brokers, groupID, cfg)
	}
}

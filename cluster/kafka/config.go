package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Config wires one node to the propagation topic. Every node must consume
// every message, so each node joins its own consumer group.
type Config struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`

	// NodeID names this node; the default consumer group is "regioncache-<NodeID>".
	NodeID string `mapstructure:"node_id" yaml:"node_id"`
	// GroupID overrides the derived consumer group.
	GroupID string `mapstructure:"group_id" yaml:"group_id"`

	ClientID string `mapstructure:"client_id" yaml:"client_id"`

	// Acks: "all", "1" or "0".
	// default: "all"
	Acks string `mapstructure:"acks" yaml:"acks"`

	// PublishTimeout bounds the wait for a delivery report.
	// default: 5s
	PublishTimeout time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`

	// PollTimeout is the consumer read timeout between shutdown checks.
	// default: 200ms
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`

	// default: 30s
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`

	// only PLAINTEXT is exercised
	// default: "PLAINTEXT"
	SecurityProtocol string `mapstructure:"security_protocol" yaml:"security_protocol"`

	Logger *zap.Logger `mapstructure:"-" yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Topic:            "regioncache",
		Acks:             "all",
		PublishTimeout:   5 * time.Second,
		PollTimeout:      200 * time.Millisecond,
		SessionTimeout:   30 * time.Second,
		SecurityProtocol: "PLAINTEXT",
	}
}

func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrInvalidConfig("brokers are required")
	}
	if c.Topic == "" {
		return ErrInvalidConfig("topic is required")
	}
	if c.NodeID == "" && c.GroupID == "" {
		return ErrInvalidConfig("node_id or group_id is required")
	}
	switch strings.ToLower(c.Acks) {
	case "all", "-1", "1", "0":
	default:
		return ErrInvalidConfig(fmt.Sprintf("invalid acks: %s", c.Acks))
	}
	if c.PublishTimeout <= 0 {
		return ErrInvalidConfig("publish_timeout must be greater than 0")
	}
	if c.PollTimeout <= 0 {
		return ErrInvalidConfig("poll_timeout must be greater than 0")
	}
	if c.SessionTimeout <= 0 {
		return ErrInvalidConfig("session_timeout must be greater than 0")
	}
	return nil
}

func (c *Config) groupID() string {
	if c.GroupID != "" {
		return c.GroupID
	}
	return "regioncache-" + c.NodeID
}

func (c *Config) ProducerConfigMap() *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.Brokers, ","),
		"acks":              strings.ToLower(c.Acks),
		"security.protocol": c.SecurityProtocol,
		// ordering per key matters more than throughput
		"enable.idempotence": true,
	}
	if c.ClientID != "" {
		_ = configMap.SetKey("client.id", c.ClientID)
	}
	return configMap
}

func (c *Config) ConsumerConfigMap() *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.Brokers, ","),
		"group.id":           c.groupID(),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
		"session.timeout.ms": int(c.SessionTimeout.Milliseconds()),
		"security.protocol":  c.SecurityProtocol,
	}
	if c.ClientID != "" {
		_ = configMap.SetKey("client.id", c.ClientID)
	}
	return configMap
}

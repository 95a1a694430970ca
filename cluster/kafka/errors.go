package kafka

import "fmt"

// ErrInvalidConfig Kafka bus configuration error
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("kafka bus: invalid config: %s", msg)
}

// ErrConnection client construction error
func ErrConnection(err error) error {
	return fmt.Errorf("kafka bus: connection failed: %w", err)
}

// ErrSubscribe subscribe error
func ErrSubscribe(topic string, err error) error {
	return fmt.Errorf("kafka bus: subscribe to topic %s failed: %w", topic, err)
}

// ErrDelivery delivery report error
func ErrDelivery(err error) error {
	return fmt.Errorf("kafka bus: delivery failed: %w", err)
}

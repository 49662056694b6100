package stat

import "context"

// PublishOptions are the delivery flags passed through to the Publisher.
type PublishOptions struct {
	QoS      byte
	Retained bool
}

// Publisher is the external messaging client the collector hands its body to.
// The collector only calls it and never manages its connection.
type Publisher interface {
	IsConnected() bool
	Publish(ctx context.Context, topic string, body []byte, opts PublishOptions) error
	// BuildTopicName expands template for the active endpoint.
	BuildTopicName(primary, local bool, template string) string
}

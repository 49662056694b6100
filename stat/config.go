package stat

import (
	"errors"
	"fmt"
	"time"
)

// Config controls statistics rendering and publication.
type Config struct {
	// Topic is the destination template passed to Publisher.BuildTopicName (default: "system/events").
	Topic string
	// Local selects the local broker namespace when building the topic.
	Local bool
	// QoS of the published body (default: 0).
	QoS byte
	// Retained asks the publisher to keep the last body (default: false).
	Retained bool
	// TimeFormat is the Go layout of the "last" field (default: "02.01.2006 15:04:05").
	TimeFormat string
	// Interval is the Reporter period (default: 1m).
	Interval time.Duration
}

func Defaults() Config {
	return Config{
		Topic:      "system/events",
		TimeFormat: "02.01.2006 15:04:05",
		Interval:   time.Minute,
	}
}

func ConfigFromMap(cfg map[string]any) Config {
	def := Defaults()
	out := def
	if v, ok := cfg["topic"].(string); ok && v != "" {
		out.Topic = v
	}
	if v, ok := cfg["local"].(bool); ok {
		out.Local = v
	}
	switch v := cfg["qos"].(type) {
	case int:
		out.QoS = qosFrom(int64(v))
	case int64:
		out.QoS = qosFrom(v)
	case float64:
		out.QoS = qosFrom(int64(v))
	}
	if v, ok := cfg["retained"].(bool); ok {
		out.Retained = v
	}
	if v, ok := cfg["time_format"].(string); ok && v != "" {
		out.TimeFormat = v
	}
	switch v := cfg["interval"].(type) {
	case time.Duration:
		out.Interval = v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			out.Interval = d
		}
	}
	return out
}

// invalidQoS marks a configured level outside 0..2 so Validate rejects it.
const invalidQoS byte = 0xFF

func qosFrom(v int64) byte {
	if v < 0 || v > 2 {
		return invalidQoS
	}
	return byte(v)
}

func (c Config) Validate() error {
	if c.Topic == "" {
		return errors.New("stat: topic template is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("stat: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.TimeFormat == "" {
		return errors.New("stat: time format is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("stat: interval must be > 0, got %s", c.Interval)
	}
	return nil
}

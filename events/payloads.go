package events

import "time"

// MQTTEventData accompanies MQTTConnected and the server switch events.
type MQTTEventData struct {
	Primary bool   `json:"primary"`
	Local   bool   `json:"local"`
	Host    string `json:"host"`
	Port    uint32 `json:"port"`
}

// IncomingData carries a message received on a subscribed topic.
type IncomingData struct {
	Topic string `json:"topic"`
	Data  []byte `json:"data"`
}

// PingState grades a reachability probe.
type PingState uint8

const (
	PingOK PingState = iota
	PingSlowdown
	PingUnavailable
	PingFailed
)

func (s PingState) String() string {
	switch s {
	case PingOK:
		return "ok"
	case PingSlowdown:
		return "slowdown"
	case PingUnavailable:
		return "unavailable"
	case PingFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PingHostData summarizes the probes of one host.
type PingHostData struct {
	HostName        string        `json:"host_name"`
	HostAddr        string        `json:"host_addr"`
	Transmitted     uint32        `json:"transmitted"`
	Received        uint32        `json:"received"`
	TotalTime       time.Duration `json:"total_time"`
	Duration        time.Duration `json:"duration"`
	Loss            float32       `json:"loss"`
	TTL             uint8         `json:"ttl"`
	State           PingState     `json:"state"`
	TimeUnavailable time.Time     `json:"time_unavailable"`
}

// PingInetData aggregates every probed host into internet reachability.
type PingInetData struct {
	HostsCount       uint8         `json:"hosts_count"`
	HostsAvailable   uint8         `json:"hosts_available"`
	State            PingState     `json:"state"`
	DurationMin      time.Duration `json:"duration_min"`
	DurationMax      time.Duration `json:"duration_max"`
	DurationTotal    time.Duration `json:"duration_total"`
	LossMin          float32       `json:"loss_min"`
	LossMax          float32       `json:"loss_max"`
	LossTotal        float32       `json:"loss_total"`
	TimeUnavailable  time.Time     `json:"time_unavailable"`
	CountUnavailable uint32        `json:"count_unavailable"`
}

// PingPublishData is posted with the pinger's periodic report.
type PingPublishData struct {
	Inet  PingInetData   `json:"inet"`
	Hosts []PingHostData `json:"hosts,omitempty"`
}

// SensorStatus accompanies SensorStatusChanged.
type SensorStatus struct {
	SensorID  uint8 `json:"sensor_id"`
	OldStatus uint8 `json:"old_status"`
	NewStatus uint8 `json:"new_status"`
}

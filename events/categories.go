// Package events is the catalogue of event categories and ids exchanged by
// device services over the xloop bus, with their typed payloads.
package events

import "github.com/trickstertwo/xloop"

const (
	Time    xloop.Category = "REVT_TIME"
	GPIO    xloop.Category = "REVT_GPIO"
	WiFi    xloop.Category = "REVT_WIFI"
	MQTT    xloop.Category = "REVT_MQTT"
	Pinger  xloop.Category = "REVT_PINGER"
	Params  xloop.Category = "REVT_PARAMS"
	Sensors xloop.Category = "REVT_SENSORS"
)

// REVT_TIME
const (
	TimeRTCEnabled xloop.EventID = iota
	TimeSNTPSyncOK
	TimeEveryMinute
	TimeStartOfHour
	TimeStartOfDay
	TimeStartOfWeek
	TimeStartOfMonth
	TimeStartOfYear
	TimeTimespanOn
	TimeTimespanOff
	TimeSilentModeOn
	TimeSilentModeOff
	TimeElTariffChanged
)

// REVT_GPIO
const (
	GPIOChange xloop.EventID = iota
	GPIOButton
	GPIOLongButton
)

// REVT_WIFI
const (
	WiFiSTAInit xloop.EventID = iota
	WiFiSTAStarted
	WiFiSTAStopped
	WiFiSTADisconnected
	WiFiSTAGotIP
	WiFiSTAPingOK
	WiFiSTAPingFailed
)

// REVT_MQTT, forwarded broker connectivity.
const (
	MQTTError xloop.EventID = iota
	MQTTErrorClear
	MQTTConnected
	MQTTConnLost
	MQTTConnFailed
	MQTTServerPrimary
	MQTTServerReserved
	MQTTSelfStop
	MQTTColdRestart
	MQTTIncomingData
)

// REVT_PINGER
const (
	PingStarted xloop.EventID = iota
	PingStopped
	PingInetAvailable
	PingInetSlowdown
	PingInetUnavailable
	PingHostAvailable
	PingHostUnavailable
	PingTelegramAvailable
	PingTelegramUnavailable
	PingMQTT1Available
	PingMQTT1Unavailable
	PingMQTT2Available
	PingMQTT2Unavailable
)

// REVT_PARAMS
const (
	ParamsRestored xloop.EventID = iota
	ParamsInternal
	ParamsChanged
	ParamsEquals
)

// REVT_SENSORS
const (
	SensorStatusChanged xloop.EventID = 0
)

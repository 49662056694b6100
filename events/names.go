package events

import (
	"strings"

	"github.com/trickstertwo/xloop"
)

var idNames = map[xloop.Category][]string{
	xloop.SystemEvents: {"STARTED", "OTA", "COMMAND", "ERROR", "TELEGRAM_ERROR", "OPENMON_ERROR", "NARODMON_ERROR", "THINGSPEAK_ERROR"},
	Time: {"RTC_ENABLED", "SNTP_SYNC_OK", "EVERY_MINUTE", "START_OF_HOUR", "START_OF_DAY", "START_OF_WEEK",
		"START_OF_MONTH", "START_OF_YEAR", "TIMESPAN_ON", "TIMESPAN_OFF", "SILENT_MODE_ON", "SILENT_MODE_OFF", "ELTARIFF_CHANGED"},
	GPIO: {"CHANGE", "BUTTON", "LONG_BUTTON"},
	WiFi: {"STA_INIT", "STA_STARTED", "STA_STOPPED", "STA_DISCONNECTED", "STA_GOT_IP", "STA_PING_OK", "STA_PING_FAILED"},
	MQTT: {"ERROR", "ERROR_CLEAR", "CONNECTED", "CONN_LOST", "CONN_FAILED", "SERVER_PRIMARY", "SERVER_RESERVED",
		"SELF_STOP", "COLD_RESTART", "INCOMING_DATA"},
	Pinger: {"STARTED", "STOPPED", "INET_AVAILABLE", "INET_SLOWDOWN", "INET_UNAVAILABLE", "HOST_AVAILABLE",
		"HOST_UNAVAILABLE", "TG_API_AVAILABLE", "TG_API_UNAVAILABLE", "MQTT1_AVAILABLE", "MQTT1_UNAVAILABLE",
		"MQTT2_AVAILABLE", "MQTT2_UNAVAILABLE"},
	Params:  {"RESTORED", "INTERNAL", "CHANGED", "EQUALS"},
	Sensors: {"STATUS_CHANGED"},
}

// Categories lists the known categories, system first.
func Categories() []xloop.Category {
	return []xloop.Category{xloop.SystemEvents, Time, GPIO, WiFi, MQTT, Pinger, Params, Sensors}
}

// ParseCategory resolves a category name case-insensitively, with or without
// the "REVT_" prefix ("wifi" and "REVT_WIFI" both give WiFi).
func ParseCategory(s string) (xloop.Category, bool) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "REVT_") {
		name = "REVT_" + name
	}
	for _, c := range Categories() {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// IDName returns the symbolic name of id within cat, or its number when unknown.
func IDName(cat xloop.Category, id xloop.EventID) string {
	names := idNames[cat]
	if id >= 0 && int(id) < len(names) {
		return names[id]
	}
	return id.String()
}

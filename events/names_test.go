package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trickstertwo/xloop"
)

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("wifi")
	assert.True(t, ok)
	assert.Equal(t, WiFi, c)

	c, ok = ParseCategory(" REVT_MQTT ")
	assert.True(t, ok)
	assert.Equal(t, MQTT, c)

	c, ok = ParseCategory("system")
	assert.True(t, ok)
	assert.Equal(t, xloop.SystemEvents, c)

	_, ok = ParseCategory("bluetooth")
	assert.False(t, ok)
}

func TestIDName(t *testing.T) {
	assert.Equal(t, "STA_GOT_IP", IDName(WiFi, WiFiSTAGotIP))
	assert.Equal(t, "CONNECTED", IDName(MQTT, MQTTConnected))
	assert.Equal(t, "ELTARIFF_CHANGED", IDName(Time, TimeElTariffChanged))
	assert.Equal(t, "MQTT2_UNAVAILABLE", IDName(Pinger, PingMQTT2Unavailable))
	assert.Equal(t, "THINGSPEAK_ERROR", IDName(xloop.SystemEvents, xloop.SysThingSpeakError))
	assert.Equal(t, "42", IDName(GPIO, 42))
	assert.Equal(t, "3", IDName("REVT_UNKNOWN", 3))
}

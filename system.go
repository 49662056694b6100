package xloop

import "context"

// SystemEvents is the well-known category for system status and error reports.
const SystemEvents Category = "REVT_SYSTEM"

const (
	SysStarted EventID = iota
	SysOTA
	SysCommand
	SysError
	SysTelegramError
	SysOpenMonError
	SysNarodMonError
	SysThingSpeakError
)

// SystemEventType tells whether a status flag is being set or cleared.
type SystemEventType uint8

const (
	SysClear SystemEventType = 0
	SysSet   SystemEventType = 1
)

func (t SystemEventType) String() string {
	if t == SysSet {
		return "set"
	}
	return "clear"
}

// SystemEventData is the payload of status posts on SystemEvents.
type SystemEventData struct {
	Type   SystemEventType `json:"type"`
	Data   uint32          `json:"data"`
	Forced bool            `json:"forced"`
}

// ErrorEventData is the payload of error-code posts on SystemEvents.
type ErrorEventData struct {
	Code int32 `json:"code"`
}

// PostSystem posts a status change on SystemEvents, waiting as long as needed.
func (b *Bus) PostSystem(ctx context.Context, id EventID, typ SystemEventType, forced bool, data uint32) error {
	return b.PostValue(ctx, SystemEvents, id, SystemEventData{Type: typ, Data: data, Forced: forced}, Forever)
}

// PostError posts an error-code report on SystemEvents, waiting as long as needed.
func (b *Bus) PostError(ctx context.Context, id EventID, code int32) error {
	return b.PostValue(ctx, SystemEvents, id, ErrorEventData{Code: code}, Forever)
}

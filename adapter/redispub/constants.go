package redispub

// Stream entry fields.
const (
	fieldID         = "id"
	fieldBody       = "body"
	fieldQoS        = "qos"
	fieldProducedAt = "producedAt" // int64 ns

	retainedSuffix = ":retained"
)

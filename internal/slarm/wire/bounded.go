package wire

import "strings"

// Field capacities, in bytes, including the terminator slot the firmware
// reserves. A value stored in a field of capacity N holds at most N-1 bytes.
const (
	DeviceCap = 12
	KeyCap    = 16
	ValueCap  = 24

	// LineCap bounds one encoded wire line.
	LineCap = 64

	// PayloadCap bounds one inbound broker payload.
	PayloadCap = 256
)

// Truncate cuts s so that it fits a field of the given capacity. Values that
// already fit are returned unchanged; longer values keep their first
// capacity-1 bytes. Truncation is silent.
func Truncate(s string, capacity int) string {
	if capacity <= 1 {
		return ""
	}
	if len(s) < capacity {
		return s
	}
	return s[:capacity-1]
}

// framing lists the bytes that delimit groups, fields and lines.
const framing = "[],\r\n"

// Framable reports whether s can be carried as a single field without
// changing how the line splits.
func Framable(s string) bool {
	return !strings.ContainsAny(s, framing)
}

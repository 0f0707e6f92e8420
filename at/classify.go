package at

import (
	"bytes"
)

type eventPrefix struct {
	prefix   string
	category Category
}

// eventPrefixes lists the line prefixes of unsolicited notifications. Order
// matters only for readability: no prefix is a prefix of an earlier entry
// with a different category.
var eventPrefixes = [...]eventPrefix{
	{UrcSocketData, CategoryNet},
	{UrcSocket, CategoryNet},
	{UrcMQTT, CategoryMQTT},
	{UrcBLE, CategoryBLE},
	{UrcWiFi, CategoryWiFi},
	{UrcWiFiScanLine, CategoryWiFi},
}

// ClassifyEvent reports whether line starts with a known event prefix and,
// if so, the category it is routed to.
func ClassifyEvent(line []byte) (Category, bool) {
	for _, e := range eventPrefixes {
		if bytes.HasPrefix(line, []byte(e.prefix)) {
			return e.category, true
		}
	}
	return CategoryNone, false
}

// IsSendOutcome reports whether line carries one of the "SEND OK" /
// "SEND FAIL" acknowledgements. They are only used for flow control on the
// co-processor side and are never handed to callers.
func IsSendOutcome(line []byte) bool {
	return bytes.Contains(line, []byte(SendOK)) || bytes.Contains(line, []byte(SendFail))
}

// IsPrompt reports whether data starts with the ready-to-send prompt.
func IsPrompt(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Prompt))
}

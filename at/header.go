package at

import (
	"bytes"
)

// HeaderResult is the outcome of matching the start of a buffer against the
// known data-header shapes.
type HeaderResult int

const (
	// HeaderNone means the buffer does not start with a data header.
	HeaderNone HeaderResult = iota
	// HeaderPartial means a header prefix matched but its final separator
	// has not arrived yet.
	HeaderPartial
	// HeaderComplete means a full header, length fields included, is present.
	HeaderComplete
)

// DataHeader describes a header announcing that a raw payload follows.
type DataHeader struct {
	Category Category
	// PayloadLen is the number of raw bytes that follow the header, not
	// counting the trailing CRLF.
	PayloadLen int
	// Size is the header length up to and including its final separator.
	Size int
}

type headerShape struct {
	prefix string
	// skip is the number of comma-terminated fields before the first length.
	skip int
	// lengths is the number of consecutive length fields, summed.
	lengths int
	// overhead is added to the summed lengths (MQTT wraps the topic in
	// quotes and separates it from the message with a comma).
	overhead int
	category Category
}

var headerShapes = [...]headerShape{
	{prefix: HdrSocketRecv, skip: 0, lengths: 1, category: CategoryNet},
	{prefix: HdrMQTTSubRecv, skip: 1, lengths: 2, overhead: 3, category: CategoryMQTT},
	{prefix: HdrBLEGattWrite, skip: 3, lengths: 1, category: CategoryBLE},
	{prefix: HdrBLEGattRead, skip: 3, lengths: 1, category: CategoryBLE},
	{prefix: HdrBLENotify, skip: 1, lengths: 1, category: CategoryBLE},
}

// maxLengthDigits keeps length fields well inside int range.
const maxLengthDigits = 9

// ParseDataHeader matches the start of data against the data-header table.
//
// A header is complete only once the separator after its last length field
// has arrived, so a length split across reads is never decoded early. A
// malformed length field, a line terminator inside the header, or a header
// longer than MaxDataHeaderLen yields HeaderNone and the bytes are framed as
// an ordinary line.
func ParseDataHeader(data []byte) (DataHeader, HeaderResult) {
	for _, shape := range headerShapes {
		if !bytes.HasPrefix(data, []byte(shape.prefix)) {
			continue
		}
		return shape.parse(data)
	}
	return DataHeader{}, HeaderNone
}

func (s headerShape) parse(data []byte) (DataHeader, HeaderResult) {
	pos := len(s.prefix)

	for range s.skip {
		next, res := skipField(data, pos)
		if res != HeaderComplete {
			return DataHeader{}, res
		}
		pos = next
	}

	total := s.overhead
	for range s.lengths {
		n, next, res := lengthField(data, pos)
		if res != HeaderComplete {
			return DataHeader{}, res
		}
		total += n
		pos = next
	}

	return DataHeader{Category: s.category, PayloadLen: total, Size: pos}, HeaderComplete
}

// skipField advances past one comma-terminated field starting at pos.
func skipField(data []byte, pos int) (int, HeaderResult) {
	for i := pos; ; i++ {
		if i >= MaxDataHeaderLen {
			return 0, HeaderNone
		}
		if i >= len(data) {
			return 0, HeaderPartial
		}
		switch data[i] {
		case ',':
			return i + 1, HeaderComplete
		case '\r', '\n':
			return 0, HeaderNone
		}
	}
}

// lengthField decodes one comma-terminated decimal field starting at pos.
func lengthField(data []byte, pos int) (int, int, HeaderResult) {
	n := 0
	for i := pos; ; i++ {
		if i >= MaxDataHeaderLen || i-pos > maxLengthDigits {
			return 0, 0, HeaderNone
		}
		if i >= len(data) {
			return 0, 0, HeaderPartial
		}
		c := data[i]
		switch {
		case c == ',' && i > pos:
			return n, i + 1, HeaderComplete
		case c >= '0' && c <= '9':
			n = n*10 + int(c-'0')
		default:
			return 0, 0, HeaderNone
		}
	}
}

package at

import (
	"bytes"
	"strconv"
)

// Status is the decoded final result line of a command.
type Status int

const (
	StatusUnexpected Status = iota
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return OK
	case StatusError:
		return ERROR
	default:
		return "UNEXPECTED"
	}
}

// ParseStatus decodes a status line such as "OK\r\n" or "ERROR\r\n".
func ParseStatus(line []byte) Status {
	switch {
	case bytes.HasPrefix(line, []byte(OK+CRLF)), bytes.Equal(line, []byte(OK)):
		return StatusOK
	case bytes.HasPrefix(line, []byte(ERROR+CRLF)), bytes.Equal(line, []byte(ERROR)):
		return StatusError
	default:
		return StatusUnexpected
	}
}

// BytesAccepted decodes the "Recv N bytes" line the co-processor sends after
// consuming a raw payload. A leading CRLF is tolerated.
func BytesAccepted(line []byte) (int, bool) {
	line = bytes.TrimPrefix(line, []byte(CRLF))
	if !bytes.HasPrefix(line, []byte(RecvPrefix)) {
		return 0, false
	}
	line = line[len(RecvPrefix):]

	end := 0
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(string(line[:end]))
	if err != nil {
		return 0, false
	}
	return n, true
}

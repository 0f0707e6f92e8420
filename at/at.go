package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "\r\n>"

	// PromptChar is the byte the co-processor emits after a CRLF when it is
	// ready to accept raw payload bytes.
	PromptChar = '>'

	// CmdProbe checks that the co-processor answers at all.
	CmdProbe = "AT"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	SendOK   = "SEND OK"
	SendFail = "SEND FAIL"

	// RecvPrefix precedes the byte count the co-processor accepted after a
	// raw payload transfer ("Recv 12 bytes").
	RecvPrefix = "Recv "

	// URCs (Unsolicited Result Codes)
	UrcSocketData   = "+IPD:"
	UrcSocket       = "+CIP:"
	UrcMQTT         = "+MQTT:"
	UrcBLE          = "+BLE:"
	UrcWiFi         = "+CW:"
	UrcWiFiScanLine = "+CWLAP:"

	// Data headers announcing a raw payload
	HdrSocketRecv   = "+CIPRECVDATA:"
	HdrMQTTSubRecv  = "+MQTT:SUBRECV:"
	HdrBLEGattWrite = "+BLE:GATTWRITE:"
	HdrBLEGattRead  = "+BLE:GATTREAD:"
	HdrBLENotify    = "+BLE:NOTIDATA:"

	// MaxDataHeaderLen bounds the bytes inspected while looking for the
	// separator that terminates a data header.
	MaxDataHeaderLen = 64
)

// Category is the protocol family a message belongs to.
type Category int

const (
	CategoryNone Category = iota // command responses
	CategoryWiFi
	CategoryBLE
	CategoryNet
	CategoryMQTT

	// NumCategories sizes per-category tables.
	NumCategories
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryWiFi:
		return "wifi"
	case CategoryBLE:
		return "ble"
	case CategoryNet:
		return "net"
	case CategoryMQTT:
		return "mqtt"
	default:
		return "unknown"
	}
}

// Valid reports whether c indexes a per-category table.
func (c Category) Valid() bool {
	return c >= CategoryNone && c < NumCategories
}

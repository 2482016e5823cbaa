package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = '>'

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	FAIL     = "FAIL"
	SendOK   = "SEND OK"
	SendFail = "SEND FAIL"

	// Inbound data announcement, followed by [<link>,]<length>:
	IPDPrefix = "+IPD,"

	// URCs (Active Message Reports)
	UrcWifiConnected  = "WIFI CONNECTED"
	UrcWifiGotIP      = "WIFI GOT IP"
	UrcWifiDisconnect = "WIFI DISCONNECT"
	UrcReady          = "ready"
	UrcConnect        = "CONNECT"
	UrcClosed         = "CLOSED"

	// Response prefixes
	PrefixCIFSR     = "+CIFSR:"
	PrefixCWLAP     = "+CWLAP:"
	PrefixCIPDOMAIN = "+CIPDOMAIN:"
)

// Commands without arguments
const (
	CmdAt          = "AT"
	CmdEchoOff     = "ATE0"
	CmdReset       = "AT+RST"
	CmdStationMode = "AT+CWMODE=1"
	CmdQuitAP      = "AT+CWQAP"
	CmdListAP      = "AT+CWLAP"
	CmdAddress     = "AT+CIFSR"
)

type ResponseType int

const (
	TypeData   ResponseType = iota // Intermediate command output (+CIFSR:...)
	TypeOK                         // OK, SEND OK
	TypeError                      // ERROR, FAIL, SEND FAIL
	TypeURC                        // Asynchronous notifications
	TypePrompt                     // CIPSEND input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeOK:
		return "ok"
	case TypeError:
		return "error"
	case TypeURC:
		return "urc"
	case TypePrompt:
		return "prompt"
	default:
		return "data"
	}
}

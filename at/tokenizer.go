package at

import (
	"bufio"
	"bytes"
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrNoIPD is returned by ParseIPD when the window holds no +IPD, marker.
	ErrNoIPD = errors.New("at: no +IPD marker")

	// ErrBadIPD is returned by ParseIPD when the marker fields are malformed.
	ErrBadIPD = errors.New("at: malformed +IPD header")
)

// Splitter is used for tokenizing ESP-AT response text. It uses the
// signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Responses are terminated by LF; a trailing CR is dropped from the token.
// A lone prompt character at the start of a token is returned on its own.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match CIPSEND prompt
	if data[0] == Prompt {
		return 1, data[0:1], nil
	}

	// 2. Match line ending with LF, dropping an optional CR
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[0:i], []byte("\r")), nil
	}

	if atEOF {
		return len(data), bytes.TrimSuffix(data, []byte("\r")), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Lines splits response text into non-empty lines using Splitter.
func Lines(text string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Split(Splitter)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Classify identifies the nature of a single response line. The line must
// not include its CR/LF terminator.
func Classify(line string) ResponseType {
	if len(line) > 0 && line[0] == Prompt {
		return TypePrompt
	}

	// Final results, also when prefixed (e.g. "SEND OK")
	switch {
	case line == OK, strings.HasSuffix(line, " "+OK):
		return TypeOK
	case line == ERROR, line == FAIL,
		strings.HasSuffix(line, " "+ERROR), strings.HasSuffix(line, " "+FAIL):
		return TypeError
	}

	if _, _, ok := ParseLinkEvent(line); ok {
		return TypeURC
	}
	switch {
	case line == UrcReady, strings.HasPrefix(line, "WIFI "):
		return TypeURC
	default:
		return TypeData
	}
}

// ParseLinkEvent recognizes the "[<link>,]CONNECT" and "[<link>,]CLOSED"
// reports. The link is 0 when the modem is in single connection mode.
func ParseLinkEvent(line string) (link int, event string, ok bool) {
	rest := line
	if i := strings.IndexByte(line, ','); i > 0 {
		n, err := strconv.Atoi(line[:i])
		if err != nil {
			return 0, "", false
		}
		link = n
		rest = line[i+1:]
	}
	switch rest {
	case UrcConnect, UrcClosed:
		return link, rest, true
	}
	return 0, "", false
}

// Fields splits s on any byte of delims. Double quoted sections are kept
// together with the quotes removed, and a backslash inside quotes escapes the
// next byte. Empty fields are preserved so that field positions stay stable.
func Fields(s, delims string) []string {
	var (
		fields  []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case !quoted && strings.IndexByte(delims, c) >= 0:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

// IPD is a decoded inbound data announcement.
type IPD struct {
	LinkID int
	Length int
}

// ParseIPD decodes the "+IPD,[<link>,]<length>" header found in window. The
// window ends just before the ':' that terminates the header. Only the last
// +IPD, marker is considered. In single connection mode the link is 0.
func ParseIPD(window []byte, multi bool) (IPD, error) {
	i := bytes.LastIndex(window, []byte(IPDPrefix))
	if i < 0 {
		return IPD{}, ErrNoIPD
	}
	fields := strings.Split(string(window[i+len(IPDPrefix):]), ",")

	var ipd IPD
	if multi {
		if len(fields) < 2 {
			return IPD{}, ErrBadIPD
		}
		link, err := strconv.Atoi(fields[0])
		if err != nil || link < 0 {
			return IPD{}, ErrBadIPD
		}
		ipd.LinkID = link
		fields = fields[1:]
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return IPD{}, ErrBadIPD
	}
	ipd.Length = n
	return ipd, nil
}

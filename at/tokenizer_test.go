package at_test

import (
	"bufio"
	"errors"
	"strings"
	"testing"

	"i4.energy/across/espwifi/at"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple AT command response",
			input:    "AT+CIFSR\r\n+CIFSR:STAIP,\"192.168.1.10\"\r\n\r\nOK\r\n",
			expected: []string{"AT+CIFSR", "+CIFSR:STAIP,\"192.168.1.10\"", "", "OK"},
		},
		{
			name:     "AT command with error",
			input:    "AT+CIPSTART=\"TCP\",\"10.0.0.1\",80\r\nERROR\r\n",
			expected: []string{"AT+CIPSTART=\"TCP\",\"10.0.0.1\",80", "ERROR"},
		},
		{
			name:     "CIPSEND prompt",
			input:    "AT+CIPSEND=5\r\n\r\nOK\r\n> ",
			expected: []string{"AT+CIPSEND=5", "", "OK", ">", " "},
		},
		{
			name:     "LF only terminators",
			input:    "busy p...\nOK\n",
			expected: []string{"busy p...", "OK"},
		},
		{
			name:     "URC mixed with AT response",
			input:    "AT+CWJAP=\"ap\",\"pw\"\r\nWIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n",
			expected: []string{"AT+CWJAP=\"ap\",\"pw\"", "WIFI CONNECTED", "WIFI GOT IP", "", "OK"},
		},
		{
			name:     "Link events",
			input:    "0,CONNECT\r\n\r\nOK\r\n0,CLOSED\r\n",
			expected: []string{"0,CONNECT", "", "OK", "0,CLOSED"},
		},
		// EOF scenarios - testing atEOF functionality
		{
			name:     "Incomplete line at EOF",
			input:    "AT+CIFSR\r\n+CIFSR:STAIP",
			expected: []string{"AT+CIFSR", "+CIFSR:STAIP"},
		},
		{
			name:     "Dangling CR at EOF",
			input:    "OK\r",
			expected: []string{"OK"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokens []string
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.Splitter)

			for scanner.Scan() {
				tokens = append(tokens, scanner.Text())
			}

			if err := scanner.Err(); err != nil {
				t.Fatalf("Scanner error: %v", err)
			}

			if len(tokens) != len(tt.expected) {
				t.Fatalf("Expected %d tokens, got %d.\nExpected: %q\nGot: %q",
					len(tt.expected), len(tokens), tt.expected, tokens)
			}

			for i, expected := range tt.expected {
				if tokens[i] != expected {
					t.Errorf("Token %d: expected %q, got %q", i, expected, tokens[i])
				}
			}
		})
	}
}

func TestLines(t *testing.T) {
	got := at.Lines("\r\nAT\r\n\r\nOK\r\n")
	if len(got) != 2 || got[0] != "AT" || got[1] != "OK" {
		t.Errorf("unexpected lines: %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected at.ResponseType
	}{
		// Final responses
		{name: "OK response", input: "OK", expected: at.TypeOK},
		{name: "SEND OK", input: "SEND OK", expected: at.TypeOK},
		{name: "ERROR response", input: "ERROR", expected: at.TypeError},
		{name: "FAIL response", input: "FAIL", expected: at.TypeError},
		{name: "SEND FAIL", input: "SEND FAIL", expected: at.TypeError},

		// URCs
		{name: "WiFi connected", input: "WIFI CONNECTED", expected: at.TypeURC},
		{name: "WiFi got IP", input: "WIFI GOT IP", expected: at.TypeURC},
		{name: "WiFi disconnect", input: "WIFI DISCONNECT", expected: at.TypeURC},
		{name: "Module ready", input: "ready", expected: at.TypeURC},
		{name: "Single link closed", input: "CLOSED", expected: at.TypeURC},
		{name: "Multi link connect", input: "3,CONNECT", expected: at.TypeURC},

		// Data responses
		{name: "Echoed command", input: "AT+CIFSR", expected: at.TypeData},
		{name: "Address", input: "+CIFSR:STAIP,\"192.168.1.10\"", expected: at.TypeData},
		{name: "Already connected", input: "ALREADY CONNECTED", expected: at.TypeData},
		{name: "Busy", input: "busy p...", expected: at.TypeData},
		{name: "Not OK inside a word", input: "BROKEN_OK", expected: at.TypeData},

		// Prompt
		{name: "CIPSEND prompt", input: ">", expected: at.TypePrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := at.Classify(tt.input)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v for input %q", tt.expected, result, tt.input)
			}
		})
	}
}

func TestParseIPD(t *testing.T) {
	tests := []struct {
		name    string
		window  string
		multi   bool
		want    at.IPD
		wantErr error
	}{
		{name: "Single connection", window: "+IPD,12", want: at.IPD{LinkID: 0, Length: 12}},
		{name: "Multi connection", window: "+IPD,0,12", multi: true, want: at.IPD{LinkID: 0, Length: 12}},
		{name: "Multi connection link 3", window: "+IPD,3,1460", multi: true, want: at.IPD{LinkID: 3, Length: 1460}},
		{name: "Noise before marker", window: "\r\nSEND OK\r\n\r\n+IPD,5", want: at.IPD{Length: 5}},
		{name: "Remote info ignored", window: "+IPD,1,7,\"10.0.0.1\",80", multi: true, want: at.IPD{LinkID: 1, Length: 7}},
		{name: "No marker", window: "+CIFSR", wantErr: at.ErrNoIPD},
		{name: "Missing link", window: "+IPD,12", multi: true, wantErr: at.ErrBadIPD},
		{name: "Bad length", window: "+IPD,x", wantErr: at.ErrBadIPD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := at.ParseIPD([]byte(tt.window), tt.multi)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFields(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		delims string
		want   []string
	}{
		{name: "Plain", input: "a,b,c", delims: ",", want: []string{"a", "b", "c"}},
		{name: "Empty kept", input: "3,\"\",-60", delims: ",", want: []string{"3", "", "-60"}},
		{name: "Quoted delimiter", input: "3,\"my,net\",-60", delims: ",", want: []string{"3", "my,net", "-60"}},
		{name: "Escaped quote", input: `"a\"b",1`, delims: ",", want: []string{`a"b`, "1"}},
		{name: "Several delimiters", input: "STAIP:1.2.3.4\n", delims: ":\n", want: []string{"STAIP", "1.2.3.4", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := at.Fields(tt.input, tt.delims)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

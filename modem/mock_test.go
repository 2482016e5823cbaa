package modem_test

import (
	"io"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/espwifi/modem"
)

// MockSequenceBuilder scripts a MockTransport: each expected command write
// queues the module reply, which the next Read hands to Loop.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	replies   chan string
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		replies:   make(chan string, 32),
		calls:     []any{},
	}
}

func (b *MockSequenceBuilder) expect(cmd, reply string) *MockSequenceBuilder {
	wire := []byte(cmd + "\r\n")
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(wire).DoAndReturn(func(p []byte) (int, error) {
			b.replies <- reply
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.expect("AT", "AT\r\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.expect("ATE0", "ATE0\r\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SingleConn() *MockSequenceBuilder {
	return b.expect("AT+CIPMUX=0", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) MultiConn() *MockSequenceBuilder {
	return b.expect("AT+CIPMUX=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) StationMode() *MockSequenceBuilder {
	return b.expect("AT+CWMODE=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) JoinAP(ssid, password string) *MockSequenceBuilder {
	return b.expect(`AT+CWJAP="`+ssid+`","`+password+`"`,
		"WIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Fail(cmd string) *MockSequenceBuilder {
	return b.expect(cmd, "\r\nERROR\r\n")
}

// Silent expects cmd and never answers it.
func (b *MockSequenceBuilder) Silent(cmd string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd+"\r\n")).DoAndReturn(func(p []byte) (int, error) {
			return len(p), nil
		}),
	)
	return b
}

// WriteFails makes the write of cmd return n and err.
func (b *MockSequenceBuilder) WriteFails(cmd string, n int, err error) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd+"\r\n")).Return(n, err),
	)
	return b
}

// Build returns the ordered write expectations and installs the reader
// that feeds queued replies to Loop.
func (b *MockSequenceBuilder) Build() []any {
	b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		reply, ok := <-b.replies
		if !ok {
			return 0, io.EOF
		}
		return copy(p, reply), nil
	}).AnyTimes()
	return b.calls
}

// EOF ends the reader; Loop returns io.EOF afterwards.
func (b *MockSequenceBuilder) EOF() {
	close(b.replies)
}

func initMockCalls(b *MockSequenceBuilder) []any {
	return b.AT().EchoOff().SingleConn().Build()
}

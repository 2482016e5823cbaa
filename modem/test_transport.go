package modem

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"i4.energy/across/espwifi/at"
)

// ScriptedTransport is a test helper that plays the module side of the
// ESP-AT protocol. Command lines written to it are answered from a script of
// prefix rules, CIPSEND payloads are collected after the prompt, and
// unsolicited data can be injected at any time.
//
// Reads block until data is available, like a real serial port would,
// because Loop reads from the transport continuously. Exported for use in
// tests of dependent packages.
type ScriptedTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	closed   bool
	writeErr error

	rules     []*scriptRule
	onPayload func(payload []byte) string

	inbuf       []byte
	payloadLeft int
	payload     []byte
	commands    []string
	payloads    [][]byte

	// rest is only touched by the reading goroutine
	rest []byte
}

type scriptRule struct {
	prefix string
	reply  string
	once   bool
	used   bool
}

func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{
		readChan: make(chan []byte, 256),
	}
}

// Expect answers the next command starting with prefix with reply. Each
// Expect rule is used once, in registration order.
func (t *ScriptedTransport) Expect(prefix, reply string) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, &scriptRule{prefix: prefix, reply: reply, once: true})
	return t
}

// Always answers every command starting with prefix with reply, unless an
// unused Expect rule matches first.
func (t *ScriptedTransport) Always(prefix, reply string) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, &scriptRule{prefix: prefix, reply: reply})
	return t
}

// OnPayload sets the reply sent once a CIPSEND payload has been received.
// The default reply is the module's "Recv <n> bytes" and "SEND OK" lines.
func (t *ScriptedTransport) OnPayload(fn func(payload []byte) string) *ScriptedTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPayload = fn
	return t
}

// FailWrites makes every later Write return err.
func (t *ScriptedTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Inject queues data as if the module had sent it unprompted.
func (t *ScriptedTransport) Inject(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendLocked(data)
}

// Commands returns the command lines received so far.
func (t *ScriptedTransport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// Payloads returns the CIPSEND payloads received so far.
func (t *ScriptedTransport) Payloads() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.payloads...)
}

func (t *ScriptedTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	t.inbuf = append(t.inbuf, p...)
	for len(t.inbuf) > 0 {
		if t.payloadLeft > 0 {
			k := min(t.payloadLeft, len(t.inbuf))
			t.payload = append(t.payload, t.inbuf[:k]...)
			t.inbuf = t.inbuf[k:]
			t.payloadLeft -= k
			if t.payloadLeft == 0 {
				t.finishPayload()
			}
			continue
		}

		i := bytes.Index(t.inbuf, []byte(at.CRLF))
		if i < 0 {
			break
		}
		cmd := string(t.inbuf[:i])
		t.inbuf = t.inbuf[i+len(at.CRLF):]
		t.handleCommand(cmd)
	}
	return len(p), nil
}

func (t *ScriptedTransport) handleCommand(cmd string) {
	t.commands = append(t.commands, cmd)

	reply, ok := t.match(cmd)
	isSend := strings.HasPrefix(cmd, "AT+CIPSEND=")
	if !ok {
		if isSend {
			reply = "\r\nOK\r\n> "
		} else {
			reply = "\r\nERROR\r\n"
		}
	}
	t.sendLocked(reply)

	if isSend && strings.Contains(reply, ">") {
		t.payloadLeft = sendLength(cmd)
		t.payload = nil
	}
}

func (t *ScriptedTransport) match(cmd string) (string, bool) {
	for _, r := range t.rules {
		if r.once && !r.used && strings.HasPrefix(cmd, r.prefix) {
			r.used = true
			return r.reply, true
		}
	}
	for _, r := range t.rules {
		if !r.once && strings.HasPrefix(cmd, r.prefix) {
			return r.reply, true
		}
	}
	return "", false
}

func (t *ScriptedTransport) finishPayload() {
	t.payloads = append(t.payloads, t.payload)
	reply := fmt.Sprintf("\r\nRecv %d bytes\r\n\r\nSEND OK\r\n", len(t.payload))
	if t.onPayload != nil {
		reply = t.onPayload(t.payload)
	}
	t.payload = nil
	t.sendLocked(reply)
}

// sendLength extracts the payload length from an AT+CIPSEND command, which
// is the second argument in multiple connection mode and the first one
// otherwise.
func sendLength(cmd string) int {
	args := strings.Split(strings.TrimPrefix(cmd, "AT+CIPSEND="), ",")
	if len(args) >= 2 && !strings.HasPrefix(args[1], `"`) {
		n, _ := strconv.Atoi(args[1])
		return n
	}
	n, _ := strconv.Atoi(args[0])
	return n
}

func (t *ScriptedTransport) sendLocked(data string) {
	if t.closed || data == "" {
		return
	}
	t.readChan <- []byte(data)
}

func (t *ScriptedTransport) Read(p []byte) (n int, err error) {
	if len(t.rest) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.rest = data
	}
	n = copy(p, t.rest)
	t.rest = t.rest[n:]
	return n, nil
}

func (t *ScriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

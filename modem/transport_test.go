package modem

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		dialer  SerialDialer
		ctx     context.Context
		wantErr string
		wantIs  error
	}{
		{
			name:    "Port name required",
			dialer:  SerialDialer{BaudRate: 115200},
			ctx:     context.Background(),
			wantErr: "espwifi: serial port name is required",
		},
		{
			name:    "Nil context",
			dialer:  SerialDialer{PortName: "/dev/ttyUSB0"},
			wantErr: "espwifi: context is nil",
		},
		{
			name:   "Canceled before the port is opened",
			dialer: SerialDialer{PortName: "/dev/espwifi-missing"},
			ctx:    canceled,
			wantIs: context.Canceled,
		},
		{
			name:    "Missing port names the device",
			dialer:  SerialDialer{PortName: "/dev/espwifi-missing", ReadTimeout: 50 * time.Millisecond},
			ctx:     context.Background(),
			wantErr: "open serial port /dev/espwifi-missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := tt.dialer.Dial(tt.ctx)
			if err == nil {
				transport.Close()
				t.Fatal("expected an error")
			}
			if transport != nil {
				t.Error("expected no transport on error")
			}
			if tt.wantErr != "" && !strings.HasPrefix(err.Error(), tt.wantErr) {
				t.Errorf("expected error starting with %q, got %q", tt.wantErr, err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected %v, got %v", tt.wantIs, err)
			}
		})
	}
}

func TestSerialDialerMode(t *testing.T) {
	custom := &serial.Mode{BaudRate: 57600, Parity: serial.EvenParity, DataBits: 7, StopBits: serial.TwoStopBits}

	tests := []struct {
		name   string
		dialer SerialDialer
		want   serial.Mode
	}{
		{
			name:   "Default is 115200 8N1",
			dialer: SerialDialer{PortName: "/dev/ttyUSB0"},
			want:   serial.Mode{BaudRate: 115200, Parity: serial.NoParity, DataBits: 8, StopBits: serial.OneStopBit},
		},
		{
			name:   "Baud rate keeps 8N1",
			dialer: SerialDialer{PortName: "/dev/ttyUSB0", BaudRate: 9600},
			want:   serial.Mode{BaudRate: 9600, Parity: serial.NoParity, DataBits: 8, StopBits: serial.OneStopBit},
		},
		{
			name:   "Mode wins over the baud rate",
			dialer: SerialDialer{PortName: "/dev/ttyUSB0", BaudRate: 9600, Mode: custom},
			want:   *custom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := *tt.dialer.mode(); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDialerFunc(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTransport := NewMockTransport(ctrl)
	dialError := errors.New("dial failed")

	t.Run("Returns the function result", func(t *testing.T) {
		var dialer Dialer = DialerFunc(func(ctx context.Context) (Transport, error) {
			return mockTransport, nil
		})

		transport, err := dialer.Dial(context.Background())
		if err != nil {
			t.Errorf("unexpected dial error: %v", err)
		}
		if transport != mockTransport {
			t.Error("expected mock transport to be returned")
		}
	})

	t.Run("Propagates errors", func(t *testing.T) {
		dialer := DialerFunc(func(ctx context.Context) (Transport, error) {
			return nil, dialError
		})

		transport, err := dialer.Dial(context.Background())
		if err != dialError {
			t.Errorf("expected dial error, got: %v", err)
		}
		if transport != nil {
			t.Error("expected nil transport on error")
		}
	})
}

func TestScriptedTransport(t *testing.T) {
	tr := NewScriptedTransport().
		Expect("AT+CWJAP=", "\r\nFAIL\r\n").
		Expect("AT+CIPSEND=", "\r\nOK\r\n> ").
		Always("AT", "\r\nOK\r\n")

	read := func() string {
		buf := make([]byte, 64)
		n, err := tr.Read(buf)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		return string(buf[:n])
	}

	tr.Write([]byte("AT+CWJAP=\"a\",\"b\"\r\n"))
	if got := read(); got != "\r\nFAIL\r\n" {
		t.Errorf("expected FAIL for first join, got %q", got)
	}

	tr.Write([]byte("AT+CWJAP=\"a\",\"b\"\r\n"))
	if got := read(); got != "\r\nOK\r\n" {
		t.Errorf("expected OK once the Expect rule is used, got %q", got)
	}

	// The payload may arrive split across writes
	tr.Write([]byte("AT+CIPSEND=0,5,\"10.0.0.2\",5000\r\n"))
	if got := read(); got != "\r\nOK\r\n> " {
		t.Errorf("expected prompt, got %q", got)
	}
	tr.Write([]byte("he"))
	tr.Write([]byte("llo"))
	if got := read(); got != "\r\nRecv 5 bytes\r\n\r\nSEND OK\r\n" {
		t.Errorf("expected SEND OK, got %q", got)
	}

	if p := tr.Payloads(); len(p) != 1 || string(p[0]) != "hello" {
		t.Errorf("unexpected payloads: %q", p)
	}
	if c := tr.Commands(); len(c) != 3 {
		t.Errorf("expected 3 commands, got %q", c)
	}

	tr.Close()
	if _, err := tr.Write([]byte("AT\r\n")); err == nil {
		t.Error("expected write error after close")
	}
}

package rsp

import (
	"bytes"
	"testing"
)

func TestChecksumAndFrameRoundTrip(t *testing.T) {
	cases := []string{"", "OK", "qSupported:multiprocess+", "deadbeef"}
	for _, payload := range cases {
		frame := Encode([]byte(payload))
		got, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode(%q) error: %v", frame, err)
		}
		if string(got) != payload {
			t.Fatalf("round trip mismatch: got %q want %q", got, payload)
		}
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	frame := []byte("$OK#00")
	if _, err := Decode(frame); err != ErrChecksum {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestDecodeRejectsMissingHash(t *testing.T) {
	if _, err := Decode([]byte("$OK")); err != ErrFraming {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
}

func TestRLERoundTrip(t *testing.T) {
	payload := []byte("aaaaaaaaaa" + "bb" + "cccccccccccc")
	encoded := EncodeRLE(payload)
	decoded, err := DecodeRLE(encoded)
	if err != nil {
		t.Fatalf("DecodeRLE error: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("RLE round trip mismatch: got %q want %q", decoded, payload)
	}
	// Decoding is idempotent on data with no '*' run markers.
	again, err := DecodeRLE(decoded)
	if err != nil {
		t.Fatalf("second DecodeRLE error: %v", err)
	}
	if !bytes.Equal(again, decoded) {
		t.Fatalf("DecodeRLE not idempotent: got %q want %q", again, decoded)
	}
}

func TestDecodeRLETruncated(t *testing.T) {
	if _, err := DecodeRLE([]byte("a*")); err != ErrTruncatedRLE {
		t.Fatalf("expected ErrTruncatedRLE, got %v", err)
	}
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	data := []byte{'$', '#', '}', '*', 'x', 0x00, 0xff}
	escaped := Escape(data)
	unescaped, err := Unescape(escaped)
	if err != nil {
		t.Fatalf("Unescape error: %v", err)
	}
	if !bytes.Equal(unescaped, data) {
		t.Fatalf("escape round trip mismatch: got %v want %v", unescaped, data)
	}
}

func TestUnescapeDanglingEscape(t *testing.T) {
	if _, err := Unescape([]byte{'}'}); err != ErrUnexpectedEscape {
		t.Fatalf("expected ErrUnexpectedEscape, got %v", err)
	}
}

func TestConnReadTokenPacketAcksInAckMode(t *testing.T) {
	in := bytes.NewBufferString("$OK#9a")
	var out bytes.Buffer
	conn := NewConn(in, &out)

	tok, err := conn.ReadToken()
	if err != nil {
		t.Fatalf("ReadToken error: %v", err)
	}
	if tok.Kind != TokenPacket || string(tok.Payload) != "OK" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if out.String() != "+" {
		t.Fatalf("expected ack '+' to be written, got %q", out.String())
	}
}

func TestConnReadTokenNoAckModeSendsNothing(t *testing.T) {
	in := bytes.NewBufferString("$OK#9a")
	var out bytes.Buffer
	conn := NewConn(in, &out)
	conn.SetNoAckMode()

	if _, err := conn.ReadToken(); err != nil {
		t.Fatalf("ReadToken error: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no ack bytes written in no-ack mode, got %q", out.String())
	}
}

func TestConnReadTokenInterrupt(t *testing.T) {
	in := bytes.NewBuffer([]byte{Interrupt})
	var out bytes.Buffer
	conn := NewConn(in, &out)

	tok, err := conn.ReadToken()
	if err != nil {
		t.Fatalf("ReadToken error: %v", err)
	}
	if tok.Kind != TokenInterrupt {
		t.Fatalf("expected TokenInterrupt, got %+v", tok)
	}
}

func TestConnReadTokenBadChecksumNaks(t *testing.T) {
	in := bytes.NewBufferString("$OK#00")
	var out bytes.Buffer
	conn := NewConn(in, &out)

	_, err := conn.ReadToken()
	if err != ErrChecksum {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if out.String() != "-" {
		t.Fatalf("expected nak '-' to be written, got %q", out.String())
	}
}

func TestSendPacketTruncatesToPacketSize(t *testing.T) {
	var out bytes.Buffer
	conn := NewConn(&bytes.Buffer{}, &out)
	conn.SetPacketSize(4)
	if err := conn.SendPacket([]byte("deadbeef")); err != nil {
		t.Fatalf("SendPacket error: %v", err)
	}
	payload, err := Decode(out.Bytes())
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if string(payload) != "dead" {
		t.Fatalf("expected truncation to PacketSize, got %q", payload)
	}
}

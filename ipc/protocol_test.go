package ipc

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestEnvelopeFraming(t *testing.T) {
	var buf bytes.Buffer
	env, err := NewEnvelope(TypeCommandReturned, CommandReturnedMessage{OriginID: 7})
	if err != nil {
		t.Fatal(err)
	}
	env.ID = 3
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatal(err)
	}

	if got := binary.LittleEndian.Uint32(buf.Bytes()[:4]); int(got) != buf.Len()-4 {
		t.Fatalf("length prefix %d, payload %d", got, buf.Len()-4)
	}

	read, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if read.Type != TypeCommandReturned || read.ID != 3 {
		t.Fatalf("read %+v", read)
	}
	var msg CommandReturnedMessage
	if err := read.Decode(&msg); err != nil || msg.OriginID != 7 {
		t.Fatalf("decoded %+v, %v", msg, err)
	}
}

func TestReadEnvelopeRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{name: "zero length", frame: []byte{0, 0, 0, 0}, want: "invalid message length"},
		{name: "oversized", frame: []byte{0xff, 0xff, 0xff, 0x7f}, want: "invalid message length"},
		{name: "truncated", frame: []byte{10, 0, 0, 0, '{'}, want: "read payload"},
		{name: "not json", frame: []byte{3, 0, 0, 0, 'a', 'b', 'c'}, want: "unmarshal envelope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEnvelope(bytes.NewReader(tt.frame))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

package ipc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func newPipe(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	return NewConnection(local, nil), remote
}

func TestRequestMatchesReplyByID(t *testing.T) {
	c, remote := newPipe(t)
	go c.ReadLoop()

	go func() {
		req, err := ReadEnvelope(remote)
		if err != nil {
			return
		}
		// An unrelated push arrives before the reply.
		push, _ := NewEnvelope(TypeReconnect, struct{}{})
		_ = WriteEnvelope(remote, push)
		reply, _ := NewEnvelope(TypeChunkDone, AckMessage{Status: "ok"})
		reply.ID = req.ID
		_ = WriteEnvelope(remote, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Request(ctx, TypeLoadChunk, LoadChunkCommand{X: 1, Y: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != TypeChunkDone {
		t.Fatalf("reply type = %q", resp.Type)
	}
}

func TestHandlerReplyEchoesID(t *testing.T) {
	c, remote := newPipe(t)
	c.RegisterHandler(TypeHello, func(env Envelope) (*Envelope, error) {
		ack, err := NewEnvelope(TypeAck, AckMessage{Status: "ok"})
		return &ack, err
	})
	go c.ReadLoop()

	hello, _ := NewEnvelope(TypeHello, HelloMessage{Player: "p", PlayerID: 1})
	hello.ID = 41
	if err := WriteEnvelope(remote, hello); err != nil {
		t.Fatal(err)
	}
	resp, err := ReadEnvelope(remote)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != TypeAck || resp.ID != 41 {
		t.Fatalf("reply %+v", resp)
	}
}

func TestRequestFailsWhenConnectionCloses(t *testing.T) {
	c, remote := newPipe(t)
	go c.ReadLoop()

	go func() {
		if _, err := ReadEnvelope(remote); err == nil {
			remote.Close()
		}
	}()

	_, err := c.Request(context.Background(), TypeGetReport, GetReportCommand{ReportID: 1})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	if _, err := c.Request(context.Background(), TypeGetReport, GetReportCommand{ReportID: 2}); !errors.Is(err, ErrClosed) {
		t.Fatalf("request after close: %v", err)
	}
}

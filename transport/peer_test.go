package transport

import (
	"encoding/json"
	"net"
	"testing"
)

func TestPeerSendReceiveRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	pa := NewPeer("b", "pipe", a)
	pb := NewPeer("a", "pipe", b)

	payload, err := json.Marshal(map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	want := Frame{Type: FrameGossipMsg, Payload: payload}

	errCh := make(chan error, 1)
	go func() { errCh <- pa.Send(want) }()

	got, err := pb.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Type != want.Type {
		t.Fatalf("expected frame type %s, got %s", want.Type, got.Type)
	}
	if string(got.Payload) != string(want.Payload) {
		t.Fatalf("payload mismatch: got %s want %s", got.Payload, want.Payload)
	}
}

func TestPeerRejectsOversizeFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	pa := NewPeer("b", "pipe", a)

	big := make([]byte, MaxFrameSize+1)
	for i := range big {
		big[i] = 'a'
	}
	payload, err := json.Marshal(string(big))
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	huge := Frame{Type: FrameGossipMsg, Payload: payload}
	if err := pa.Send(huge); err == nil {
		t.Fatalf("expected oversize frame to be rejected")
	}
}

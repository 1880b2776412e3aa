package crpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type EchoArgs struct {
	Payload string `cbor:"1,keyasint,omitempty"`
}

type EchoReply struct {
	Payload string `cbor:"1,keyasint,omitempty"`
}

type Echo struct{}

func (e *Echo) Echo(req *EchoArgs, res *EchoReply) error {
	res.Payload = req.Payload
	return nil
}

func (e *Echo) Fail(req *EchoArgs, res *EchoReply) error {
	return errors.New("deliberate failure")
}

func startTestServer(t *testing.T) (string, context.CancelFunc) {
	t.Helper()

	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(l)
	if err := srv.Register(&Echo{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	return l.Addr().String(), cancel
}

func TestCallRoundtrip(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	cli, err := Dial("tcp4", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	ctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	res := &EchoReply{}
	if err := cli.Call(ctx, "Echo.Echo", &EchoArgs{Payload: "hello"}, res); err != nil {
		t.Fatal(err)
	}
	if res.Payload != "hello" {
		t.Fatalf("unexpected reply: %q", res.Payload)
	}
}

func TestCallPropagatesServerError(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	cli, err := Dial("tcp4", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	ctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	res := &EchoReply{}
	err = cli.Call(ctx, "Echo.Fail", &EchoArgs{}, res)
	if err == nil {
		t.Fatal("expected an error from the remote side")
	}
	var serr ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected a ServerError, got %T: %v", err, err)
	}
	if serr.Error() != "deliberate failure" {
		t.Fatalf("unexpected error text: %q", serr.Error())
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	cli, err := Dial("tcp4", addr)
	if err != nil {
		t.Fatal(err)
	}
	cli.Close()

	// The read loop shuts down asynchronously after Close.
	ctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()

	res := &EchoReply{}
	if err := cli.Call(ctx, "Echo.Echo", &EchoArgs{Payload: "x"}, res); err == nil {
		t.Fatal("expected a call on a closed client to fail")
	}
}

func TestRegisterRejectsUnsuitableType(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	srv := NewServer(l)
	type bare struct{}
	if err := srv.Register(&bare{}); err == nil {
		t.Fatal("expected registration of a methodless type to fail")
	}
}

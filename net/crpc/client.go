package crpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// ServerError is an error string reported by the remote side of a call.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

// Call represents an active RPC.
type Call struct {
	ServiceMethod string     // The name of the service and method to call.
	Args          any        // The argument to the function (*struct).
	Reply         any        // The reply from the function (*struct).
	Error         error      // After completion, the error status.
	Done          chan *Call // Receives *Call when the call is complete.
}

func (call *Call) done() {
	select {
	case call.Done <- call:
	default:
		// Never block here; Go() guarantees a buffered channel.
		log.Debugf("crpc: discarding Call reply due to insufficient Done chan capacity")
	}
}

type Client struct {
	conn     io.ReadWriteCloser
	mutex    sync.Mutex // protects following fields
	seq      uint64
	pending  map[uint64]*Call
	closing  bool // user has called Close
	shutdown bool // the read loop has terminated
}

func NewClient(conn io.ReadWriteCloser) *Client {
	client := &Client{
		conn:    conn,
		pending: make(map[uint64]*Call),
	}
	go client.input()
	return client
}

// Dial connects to an RPC server at the specified network address.
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func (client *Client) send(call *Call) {
	// Register this call.
	client.mutex.Lock()
	if client.closing || client.shutdown {
		client.mutex.Unlock()
		call.Error = ErrShutdown
		call.done()
		return
	}
	seq := client.seq
	client.seq++
	client.pending[seq] = call
	client.mutex.Unlock()

	req := &RequestHeader{
		Method: call.ServiceMethod,
		Seq:    seq,
	}

	encoder := cbor.NewEncoder(client.conn)
	err := encoder.Encode(req)
	if err == nil {
		err = encoder.Encode(call.Args)
	}

	// If the request could not be written, fail the call now.
	if err != nil {
		client.mutex.Lock()
		delete(client.pending, seq)
		client.mutex.Unlock()
		call.Error = err
		call.done()
	}
}

// input is the client read loop. It matches responses to pending calls by
// sequence number and terminates all pending calls when the connection dies.
func (client *Client) input() {
	var err error

	decoder := cbor.NewDecoder(client.conn)
	for err == nil {
		response := ResponseHeader{}
		if err = decoder.Decode(&response); err != nil {
			break
		}

		client.mutex.Lock()
		call := client.pending[response.Seq]
		delete(client.pending, response.Seq)
		client.mutex.Unlock()

		switch {
		case call == nil:
			// The call was already removed, usually because the request write
			// partially failed. Consume the body to stay in sync with the stream.
			log.Warnf("crpc: received reply for unknown sequence %d, discarding", response.Seq)
			if response.Err == "" {
				var dummy any
				err = decoder.Decode(&dummy)
			}

		case response.Err != "":
			call.Error = ServerError(response.Err)
			call.done()

		default:
			if err = decoder.Decode(call.Reply); err != nil {
				call.Error = err
			}
			call.done()
		}
	}

	// Terminate pending calls
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.shutdown = true
	shutdownError := err
	if client.closing || err == io.EOF || errors.Is(err, net.ErrClosed) {
		shutdownError = ErrShutdown
	}

	if shutdownError != ErrShutdown {
		log.Warnf("crpc: client input loop error: %v", err)
	} else {
		log.Debugf("crpc: client connection closed")
	}

	for _, call := range client.pending {
		call.Error = shutdownError
		call.done()
	}
	client.pending = make(map[uint64]*Call)
}

// Go invokes the function asynchronously. If done is nil a buffered channel
// is allocated; a caller-provided channel must be buffered.
func (client *Client) Go(serviceMethod string, args any, reply any, done chan *Call) *Call {
	call := &Call{
		ServiceMethod: serviceMethod,
		Args:          args,
		Reply:         reply,
	}
	if done == nil {
		done = make(chan *Call, 1)
	}
	call.Done = done
	client.send(call)
	return call
}

// Call invokes the named function and waits for it to complete or for the
// context to be cancelled.
func (client *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	call := client.Go(serviceMethod, args, reply, make(chan *Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-call.Done:
		return resp.Error
	}
}

// Close closes the underlying connection. If the connection is already
// shutting down, ErrShutdown is returned.
func (client *Client) Close() error {
	client.mutex.Lock()
	if client.closing {
		client.mutex.Unlock()
		return ErrShutdown
	}
	client.closing = true
	client.mutex.Unlock()
	return client.conn.Close()
}

// Package mpubsub implements multicast pubsub for the local network segment.
// Publish sends a CBOR-encoded message to a multicast group; Listen receives
// messages and dispatches them to registered handler methods. A handler
// service is any exported type with methods of the form M(msg *T).
package mpubsub

import (
	"bytes"
	"context"
	"go/token"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

const maxDatagramSize = 8192

type MessageHeader struct {
	ServiceMethod string `cbor:"1,keyasint,omitempty"`
}

type handlerType struct {
	method  reflect.Method
	argType reflect.Type
}

type service struct {
	name    string
	sub     reflect.Value
	typ     reflect.Type
	methods map[string]*handlerType
}

type PubSub struct {
	rc         *net.UDPConn
	wc         *net.UDPConn
	serviceMap sync.Map
}

func New(rconn *net.UDPConn, wconn *net.UDPConn) *PubSub {
	return &PubSub{
		rc: rconn,
		wc: wconn,
	}
}

func (ps *PubSub) Register(rcvr any) {
	s := new(service)
	s.typ = reflect.TypeOf(rcvr)
	s.sub = reflect.ValueOf(rcvr)
	sname := reflect.Indirect(s.sub).Type().Name()
	if sname == "" {
		log.Errorf("mpubsub.Register: no service name for type %s", s.typ.String())
		return
	}
	if !token.IsExported(sname) {
		log.Errorf("mpubsub.Register: type %q is not exported", sname)
		return
	}
	s.name = sname

	s.methods = suitableHandlers(s.typ)
	if len(s.methods) == 0 {
		log.Errorf("mpubsub.Register: type %s has no exported methods of suitable type", sname)
		return
	}
	ps.serviceMap.Store(sname, s)

	for m := range s.methods {
		log.Debugf("mpubsub.Register: %s.%s", sname, m)
	}
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type, so we need to check the type name as well.
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

func suitableHandlers(typ reflect.Type) map[string]*handlerType {
	handlers := make(map[string]*handlerType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		mname := method.Name
		if !method.IsExported() {
			continue
		}
		// Method needs two ins (receiver, *msg) and no outs.
		if mtype.NumIn() != 2 {
			log.Errorf("mpubsub.Register: method %q has %d input parameters; needs exactly two", mname, mtype.NumIn())
			continue
		}
		argType := mtype.In(1)
		if argType.Kind() != reflect.Pointer {
			log.Errorf("mpubsub.Register: argument type of method %q is not a pointer: %q", mname, argType)
			continue
		}
		if !isExportedOrBuiltinType(argType) {
			log.Errorf("mpubsub.Register: argument type of method %q is not exported: %q", mname, argType)
			continue
		}
		if mtype.NumOut() != 0 {
			log.Errorf("mpubsub.Register: method %q has %d output parameters; needs exactly zero", mname, mtype.NumOut())
			continue
		}
		handlers[mname] = &handlerType{method: method, argType: argType}
	}
	return handlers
}

func (ps *PubSub) Publish(serviceMethod string, args any) error {
	msg := MessageHeader{
		ServiceMethod: serviceMethod,
	}

	buf := new(bytes.Buffer)
	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(msg); err != nil {
		return err
	}
	if err := enc.Encode(args); err != nil {
		return err
	}

	if _, err := ps.wc.Write(buf.Bytes()); err != nil {
		return err
	}

	return nil
}

// Listen receives multicast messages and dispatches them until the context
// is cancelled.
func (ps *PubSub) Listen(ctx context.Context) error {
	// Closing the read connection unblocks ReadFromUDP below.
	go func() {
		<-ctx.Done()
		ps.rc.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	ps.rc.SetReadBuffer(maxDatagramSize)
	for {
		n, _, err := ps.rc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Debugf("mpubsub: listener stopping")
				return ctx.Err()
			default:
			}
			log.Errorf("mpubsub: failed to read message: %v", err)
			continue
		}

		ps.dispatch(buf[:n])
	}
}

func (ps *PubSub) dispatch(raw []byte) {
	dec := cbor.NewDecoder(bytes.NewReader(raw))

	var msg MessageHeader
	if err := dec.Decode(&msg); err != nil {
		log.Errorf("mpubsub: failed to unmarshal message: %v", err)
		return
	}

	dot := strings.LastIndex(msg.ServiceMethod, ".")
	if dot < 0 {
		log.Errorf("mpubsub: service/method ill-formed: %s", msg.ServiceMethod)
		return
	}
	serviceName := msg.ServiceMethod[:dot]
	methodName := msg.ServiceMethod[dot+1:]

	svci, ok := ps.serviceMap.Load(serviceName)
	if !ok {
		log.Errorf("mpubsub: can't find service %s", msg.ServiceMethod)
		return
	}
	svc := svci.(*service)

	handler := svc.methods[methodName]
	if handler == nil {
		log.Errorf("mpubsub: can't find method %s", msg.ServiceMethod)
		return
	}

	arg := reflect.New(handler.argType.Elem())
	if err := dec.Decode(arg.Interface()); err != nil {
		log.Errorf("mpubsub: failed to unmarshal arguments: %v", err)
		return
	}

	handler.method.Func.Call([]reflect.Value{svc.sub, arg})
}

// Package crpc is a minimal CBOR-over-TCP RPC. A service is any exported
// type with methods of the form M(args *A, reply *R) error; methods are
// dispatched by "Service.Method" name.
package crpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

func (svc *service) call(mtype *methodType, argv, replyv reflect.Value) error {
	returnValues := mtype.method.Func.Call([]reflect.Value{svc.rcvr, argv, replyv})
	if errInter := returnValues[0].Interface(); errInter != nil {
		return errInter.(error)
	}
	return nil
}

type Server struct {
	listener   net.Listener
	serviceMap sync.Map // map[string]*service
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
	}
}

func (srv *Server) Register(rcvr any) error {
	s := new(service)
	s.typ = reflect.TypeOf(rcvr)
	s.rcvr = reflect.ValueOf(rcvr)
	sname := reflect.Indirect(s.rcvr).Type().Name()
	if sname == "" {
		return fmt.Errorf("crpc.Register: no service name for type %s", s.typ.String())
	}
	if !token.IsExported(sname) {
		return fmt.Errorf("crpc.Register: type %s is not exported", sname)
	}
	s.name = sname

	s.method = suitableMethods(s.typ)
	if len(s.method) == 0 {
		return fmt.Errorf("crpc.Register: type %s has no exported methods of suitable type", sname)
	}

	if _, dup := srv.serviceMap.LoadOrStore(sname, s); dup {
		return errors.New("crpc: service already defined: " + sname)
	}

	for m := range s.method {
		log.Debugf("crpc.Register: %s.%s", sname, m)
	}

	return nil
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type, so we need to check the type name as well.
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// suitableMethods returns the RPC-shaped methods of typ.
func suitableMethods(typ reflect.Type) map[string]*methodType {
	methods := make(map[string]*methodType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		mname := method.Name
		if !method.IsExported() {
			continue
		}
		// Method needs three ins: receiver, *args, *reply.
		if mtype.NumIn() != 3 {
			log.Errorf("crpc.Register: method %q has %d input parameters; needs exactly three", mname, mtype.NumIn())
			continue
		}
		argType := mtype.In(1)
		if !isExportedOrBuiltinType(argType) {
			log.Errorf("crpc.Register: argument type of method %q is not exported: %q", mname, argType)
			continue
		}
		replyType := mtype.In(2)
		if replyType.Kind() != reflect.Pointer {
			log.Errorf("crpc.Register: reply type of method %q is not a pointer: %q", mname, replyType)
			continue
		}
		if !isExportedOrBuiltinType(replyType) {
			log.Errorf("crpc.Register: reply type of method %q is not exported: %q", mname, replyType)
			continue
		}
		// Method needs one out: error.
		if mtype.NumOut() != 1 {
			log.Errorf("crpc.Register: method %q has %d output parameters; needs exactly one", mname, mtype.NumOut())
			continue
		}
		if returnType := mtype.Out(0); returnType != reflect.TypeOf((*error)(nil)).Elem() {
			log.Errorf("crpc.Register: return type of method %q is %q, must be error", mname, returnType)
			continue
		}
		methods[mname] = &methodType{method: method, ArgType: argType, ReplyType: replyType}
	}
	return methods
}

func (srv *Server) Serve(ctx context.Context) error {
	// Close the listener when the context is cancelled; this unblocks Accept.
	go func() {
		<-ctx.Done()
		log.Infof("crpc.Server: context cancelled, closing listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("crpc.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Infof("crpc.Server: shutting down listener %s", srv.listener.Addr())
				return ctx.Err()
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("crpc.Server: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}

			log.Errorf("crpc.Server: accept error on %s: %v, server stopping", srv.listener.Addr(), err)
			return err
		}

		tempDelay = 0
		log.Debugf("crpc.Server: accepted connection from %s", conn.RemoteAddr().String())
		go srv.serveConn(ctx, conn)
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	decoder := cbor.NewDecoder(conn)
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("crpc.Server: closing connection %s, server stopping", conn.RemoteAddr())
			return
		default:
		}

		// Read the request header
		req := &RequestHeader{}
		if err := decoder.Decode(req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debugf("crpc.Server: connection %s closed: %v", conn.RemoteAddr(), err)
			} else {
				log.Errorf("crpc.Server: error decoding request header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		dot := strings.LastIndex(req.Method, ".")
		if dot < 0 {
			log.Errorf("crpc.Server: service/method request ill-formed: %q from %s", req.Method, conn.RemoteAddr())
			return
		}
		serviceName := req.Method[:dot]
		methodName := req.Method[dot+1:]

		svci, ok := srv.serviceMap.Load(serviceName)
		if !ok {
			log.Errorf("crpc.Server: can't find service %q for method %q from %s", serviceName, req.Method, conn.RemoteAddr())
			return
		}
		svc := svci.(*service)
		mtype := svc.method[methodName]
		if mtype == nil {
			log.Errorf("crpc.Server: can't find method %q for service %q from %s", methodName, serviceName, conn.RemoteAddr())
			return
		}

		// Decode the argument value
		var argv reflect.Value
		if mtype.ArgType.Kind() == reflect.Pointer {
			argv = reflect.New(mtype.ArgType.Elem())
		} else {
			argv = reflect.New(mtype.ArgType)
		}
		if err := decoder.Decode(argv.Interface()); err != nil {
			log.Errorf("crpc.Server: error decoding argument for %s from %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}

		repl := &ResponseHeader{Seq: req.Seq}
		replyv := reflect.New(mtype.ReplyType.Elem())

		// Call the service, recovering from handler panics
		var callErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("crpc.Server: panic during %s from %s: %v", req.Method, conn.RemoteAddr(), r)
					callErr = fmt.Errorf("crpc: internal server error during %s", req.Method)
				}
			}()
			callErr = svc.call(mtype, argv, replyv)
		}()

		if callErr != nil {
			repl.Err = callErr.Error()
		}

		encoder := cbor.NewEncoder(conn)
		if err := encoder.Encode(repl); err != nil {
			log.Errorf("crpc.Server: error encoding response header for %s to %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if callErr == nil {
			if err := encoder.Encode(replyv.Interface()); err != nil {
				log.Errorf("crpc.Server: error encoding response body for %s to %s: %v", req.Method, conn.RemoteAddr(), err)
				return
			}
		}
	}
}

// Addr returns the addresses on which the server can be reached. A listener
// bound to a specific IP yields that address; a listener on an unspecified
// IP yields the addresses of active non-loopback interfaces with the
// listener's port.
func (srv *Server) Addr() []net.Addr {
	tcpAddr, ok := srv.listener.Addr().(*net.TCPAddr)
	if !ok {
		return []net.Addr{srv.listener.Addr()}
	}

	if !tcpAddr.IP.IsUnspecified() {
		return []net.Addr{tcpAddr}
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		log.Errorf("crpc.Server.Addr: failed to list network interfaces: %v", err)
		return []net.Addr{tcpAddr}
	}

	var addresses []net.Addr
	for _, iface := range interfaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		ifaddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range ifaddrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsUnspecified() {
				continue
			}
			addresses = append(addresses, &net.TCPAddr{IP: ipnet.IP, Port: tcpAddr.Port})
		}
	}

	if len(addresses) == 0 {
		return []net.Addr{tcpAddr}
	}
	return addresses
}

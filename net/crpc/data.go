package crpc

// Wire framing: every request is a RequestHeader followed by the argument
// body, every response is a ResponseHeader followed by the reply body
// (omitted when Err is set).

type RequestHeader struct {
	Seq    uint64 `cbor:"1,keyasint,omitempty"`
	Method string `cbor:"2,keyasint,omitempty"`
}

type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}

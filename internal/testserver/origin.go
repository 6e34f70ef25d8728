package testserver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Origin serves a payload the way the fetch protocol expects: a metadata
// document on /info and the payload on /, honoring Range headers.
type Origin struct {
	Payload []byte
	// AdvertiseLength adds a "length" field to the metadata document.
	AdvertiseLength bool
	// Metadata overrides the generated metadata document when not nil.
	Metadata []byte
}

func (o *Origin) Digest() string {
	sum := sha256.Sum256(o.Payload)
	return hex.EncodeToString(sum[:])
}

func (o *Origin) MetadataDocument() []byte {
	if o.Metadata != nil {
		return o.Metadata
	}
	if o.AdvertiseLength {
		return []byte(fmt.Sprintf(`{"length": %d, "sha256": "%s"}`, len(o.Payload), o.Digest()))
	}
	return []byte(fmt.Sprintf(`{"sha256": "%s"}`, o.Digest()))
}

func (o *Origin) Handle(e *Exchange) {
	switch e.Request.Path {
	case "/info":
		e.Write(Response("200 OK", o.MetadataDocument()))
	case "/":
		e.Write(o.respond(e.Request))
	default:
		e.Write(Response("404 Not Found", []byte("not found")))
	}
}

// respond treats the range end as exclusive, so consecutive segments of a
// fixed size tile the payload without overlap.
func (o *Origin) respond(req *Request) []byte {
	start, end, ok := req.Range()
	if !ok {
		return Response("200 OK", o.Payload)
	}
	size := int64(len(o.Payload))
	if start > size {
		start = size
	}
	if end > size {
		end = size
	}
	if end < start {
		end = start
	}
	return Response("206 Partial Content", o.Payload[start:end])
}

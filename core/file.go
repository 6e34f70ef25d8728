package core

import (
	"time"
)

// Meta describes one request/response exchange on a dedicated connection.
type Meta struct {
	FetchID          string        `json:"fetchId"`
	Addr             string        `json:"addr"`
	Path             string        `json:"path"`
	Range            string        `json:"range,omitempty"` // e.g. "bytes=0-65536"
	Status           string        `json:"status"`          // e.g. "206 Partial Content"
	StatusCode       int           `json:"statusCode"`      // e.g. 206
	Proto            string        `json:"proto"`           // e.g. "HTTP/1.1"
	HeaderLength     int           `json:"headerLength"`
	PayloadLength    int           `json:"payloadLength"`
	Offset           int64         `json:"offset"`
	RequestTimestamp time.Time     `json:"requestTimestamp"`
	DownloadTime     time.Duration `json:"downloadTime"`
}

type File struct {
	Meta
	// Raw holds the bytes read off the wire, header included.
	Raw []byte
}

func (f *File) Header() []byte {
	return f.Raw[:f.HeaderLength]
}

func (f *File) Payload() []byte {
	return f.Raw[f.HeaderLength:]
}

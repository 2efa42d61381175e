package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultContentType is applied to any response body whose content
// type was not fixed by a part or a header.
const DefaultContentType = "text/html; charset=utf-8"

// JSONContentType is the media type applied to JSON-coerced bodies.
const JSONContentType = "text/json"

// ErrInvalidResponse is returned by From when the given parts cannot
// be coerced into a canonical response.
var ErrInvalidResponse = errors.New("cannot convert to a response")

// maxEmptyChunkRun caps consecutive empty chunks WriteTo tolerates
// before declaring the producer stalled.
const maxEmptyChunkRun = 100

// ChunkFunc produces the next body chunk of a streamed response. It
// returns io.EOF after the last chunk has been produced.
type ChunkFunc func() ([]byte, error)

// Part is one element of a web method return value. The concrete
// variants are Text, Bytes, JSON, Lines, Chunks (body parts) and
// Status, Headers, ContentType (modifier parts). A *Response is also
// a valid part when passed alone.
type Part interface {
	respPart()
}

// Text is a UTF-8 text body.
type Text string

// Bytes is a raw byte body.
type Bytes []byte

// JSON is a mapping serialized to a JSON text body.
type JSON map[string]interface{}

// Lines is a finite ordered sequence of chunks streamed as the body.
type Lines []string

// Chunks is a lazily produced body.
type Chunks ChunkFunc

// Status is an HTTP status code.
type Status int

// Headers is a header mapping applied to the response.
type Headers map[string]string

// ContentType fixes the response content type. It is applied after
// Headers, so it always wins over a Content-Type header.
type ContentType string

func (Text) respPart()        {}
func (Bytes) respPart()       {}
func (JSON) respPart()        {}
func (Lines) respPart()       {}
func (Chunks) respPart()      {}
func (Status) respPart()      {}
func (Headers) respPart()     {}
func (ContentType) respPart() {}
func (*Response) respPart()   {}

// Response is the canonical response every web method return value is
// coerced into.
type Response struct {
	Status      int
	ContentType string
	Headers     http.Header

	body   []byte
	chunks ChunkFunc
}

// New returns an empty 200 response.
func New() *Response {
	return &Response{
		Status:  http.StatusOK,
		Headers: http.Header{},
	}
}

// SetBody replaces the response body with a finite byte sequence.
func (resp *Response) SetBody(body []byte) {
	resp.body = body
	resp.chunks = nil
}

// SetChunks replaces the response body with a lazy chunk producer.
func (resp *Response) SetChunks(chunks ChunkFunc) {
	resp.body = nil
	resp.chunks = chunks
}

// Body returns the finite body, or nil for streamed responses.
func (resp *Response) Body() []byte {
	return resp.body
}

// Streaming reports whether the body is produced lazily.
func (resp *Response) Streaming() bool {
	return resp.chunks != nil
}

func (resp *Response) hasBody() bool {
	return resp.body != nil || resp.chunks != nil
}

// From coerces a web method return value into a canonical response.
//
// Parts are scanned left to right. The first body part (Text, Bytes,
// JSON, Lines, Chunks) fixes the body exactly once; a second body
// part is an error. Status sets the status code, Headers sets the
// header mapping and ContentType sets the content type. Headers are
// applied before ContentType regardless of positional order, so an
// explicit ContentType always wins over a Content-Type header.
//
// A single *Response part passes through unchanged.
func From(parts ...Part) (*Response, error) {
	if len(parts) == 1 {
		if resp, ok := parts[0].(*Response); ok {
			if resp == nil {
				return nil, invalidf("nil response")
			}
			return resp, nil
		}
	}
	if len(parts) == 0 {
		return nil, invalidf("no value")
	}

	resp := New()
	var headers Headers
	var contentType, formatDefault string

	for _, part := range parts {
		switch v := part.(type) {
		case Text:
			if err := bodyOnce(resp); err != nil {
				return nil, err
			}
			resp.SetBody([]byte(v))
			formatDefault = DefaultContentType
		case Bytes:
			if err := bodyOnce(resp); err != nil {
				return nil, err
			}
			resp.SetBody(v)
			formatDefault = DefaultContentType
		case JSON:
			if err := bodyOnce(resp); err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(map[string]interface{}(v))
			if err != nil {
				return nil, invalidf("unserializable mapping: %v", err)
			}
			resp.SetBody(encoded)
			formatDefault = JSONContentType
		case Lines:
			if err := bodyOnce(resp); err != nil {
				return nil, err
			}
			resp.SetChunks(lineChunks(v))
			formatDefault = DefaultContentType
		case Chunks:
			if err := bodyOnce(resp); err != nil {
				return nil, err
			}
			if v == nil {
				return nil, invalidf("nil chunk producer")
			}
			resp.SetChunks(ChunkFunc(v))
			formatDefault = DefaultContentType
		case Status:
			resp.Status = int(v)
		case Headers:
			headers = v
		case ContentType:
			contentType = string(v)
		case *Response:
			return nil, invalidf("embedded response in a multi-part value")
		default:
			return nil, invalidf("%T", part)
		}
	}

	for k, v := range headers {
		resp.Headers.Set(k, v)
	}

	// Headers are applied before the content type: an explicit
	// ContentType part wins over a Content-Type header, which in turn
	// wins over the format default. Never silently dropped.
	switch {
	case contentType != "":
		resp.ContentType = contentType
	case resp.Headers.Get("Content-Type") != "":
		resp.ContentType = resp.Headers.Get("Content-Type")
	default:
		resp.ContentType = formatDefault
	}

	return resp, nil
}

func bodyOnce(resp *Response) error {
	if resp.hasBody() {
		return invalidf("more than one body element")
	}
	return nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}

func lineChunks(lines []string) ChunkFunc {
	i := 0
	return func() ([]byte, error) {
		if i >= len(lines) {
			return nil, io.EOF
		}
		chunk := []byte(lines[i])
		i++
		return chunk, nil
	}
}

// WriteTo emits the canonical response through an http.ResponseWriter.
// Streamed bodies are pulled chunk by chunk and flushed as they are
// produced; production errors after the header was written terminate
// the body early.
func (resp *Response) WriteTo(w http.ResponseWriter) error {
	for k, vv := range resp.Headers {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.chunks == nil {
		_, err := w.Write(resp.body)
		return err
	}

	flusher, _ := w.(http.Flusher)
	emptyRun := 0
	for {
		chunk, err := resp.chunks()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			// A producer stuck on empty chunks must not spin forever.
			emptyRun++
			if emptyRun > maxEmptyChunkRun {
				return fmt.Errorf("chunk producer yielded %d empty chunks in a row", emptyRun)
			}
			continue
		}
		emptyRun = 0
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

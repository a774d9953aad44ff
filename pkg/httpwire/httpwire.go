// Package httpwire frames the harness's HTTP/1.1 messages over a secure stream.
//
// Reads go through a byte-counting reader beneath the buffered reader, so the
// size reported for a message is exactly the bytes that message consumed from
// the stream; bytes of a pipelined follow-up that happen to be buffered are not
// attributed to it. Writes serialise the whole message first and hand it to the
// stream in one call, so the reported size is the bytes written.
package httpwire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
)

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Reader reads successive messages from one stream.
type Reader struct {
	src *countingReader
	br  *bufio.Reader
}

// NewReader wraps r. One Reader must be used for the lifetime of the stream.
func NewReader(r io.Reader) *Reader {
	src := &countingReader{r: r}
	return &Reader{src: src, br: bufio.NewReader(src)}
}

// consumed is the number of stream bytes handed to message parsing so far.
func (r *Reader) consumed() int64 {
	return r.src.n - int64(r.br.Buffered())
}

// ReadRequest reads one request and its full body. It returns the number of
// stream bytes the request occupied. A stream that ends before the first byte
// of a request yields ErrEndOfStream.
func (r *Reader) ReadRequest() (*http.Request, []byte, int, error) {
	start := r.consumed()
	req, err := http.ReadRequest(r.br)
	if err != nil {
		return nil, nil, int(r.consumed() - start), r.endOfStream(start, err)
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, nil, int(r.consumed() - start), unexpected(err)
	}
	return req, body, int(r.consumed() - start), nil
}

// ReadResponse reads one response to req and its full body.
func (r *Reader) ReadResponse(req *http.Request) (*http.Response, []byte, int, error) {
	start := r.consumed()
	resp, err := http.ReadResponse(r.br, req)
	if err != nil {
		return nil, nil, int(r.consumed() - start), r.endOfStream(start, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, nil, int(r.consumed() - start), unexpected(err)
	}
	return resp, body, int(r.consumed() - start), nil
}

func (r *Reader) endOfStream(start int64, err error) error {
	if errors.Is(err, io.EOF) {
		if r.consumed() == start {
			return qerrors.ErrEndOfStream
		}
		return io.ErrUnexpectedEOF
	}
	return err
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// KeepAlive reports whether the request asks to keep the stream open.
func KeepAlive(req *http.Request) bool {
	return !req.Close
}

// EchoResponse builds the response to req: status 400, text/plain, the
// request body echoed verbatim and a Connection header mirroring the
// request's keep-alive preference.
func EchoResponse(req *http.Request, body []byte) *http.Response {
	keepAlive := KeepAlive(req)
	connection := "close"
	if keepAlive {
		connection = "keep-alive"
	}

	resp := &http.Response{
		StatusCode:    http.StatusBadRequest,
		Status:        strconv.Itoa(http.StatusBadRequest) + " " + http.StatusText(http.StatusBadRequest),
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        make(http.Header),
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Close:         !keepAlive,
		Request:       req,
	}
	resp.Header.Set("Server", constants.ServerHeader)
	resp.Header.Set("Content-Type", constants.ContentType)
	resp.Header.Set("Connection", connection)
	return resp
}

// PayloadRequest builds the load request: POST / with a body of size
// constant bytes and keep-alive disabled.
func PayloadRequest(host string, size int) (*http.Request, error) {
	if size < 0 {
		return nil, fmt.Errorf("httpwire: negative payload size %d", size)
	}
	payload := bytes.Repeat([]byte{constants.PayloadByte}, size)

	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Host = host
	req.Close = true
	req.Header.Set("User-Agent", constants.UserAgent)
	req.Header.Set("Content-Type", constants.ContentType)
	req.Header.Set("Connection", "close")
	return req, nil
}

// message is satisfied by *http.Request and *http.Response.
type message interface {
	Write(io.Writer) error
}

// Write serialises m and writes it to w in one call, returning the bytes
// written.
func Write(w io.Writer, m message) (int, error) {
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		return 0, fmt.Errorf("httpwire: encode: %w", err)
	}
	return w.Write(buf.Bytes())
}

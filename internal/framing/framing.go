// Package framing implements the Content-Length length-prefixed framing
// used by the framed provider's subprocess transport (spec §4.6.1):
//
//	Content-Length: <N>\r\n\r\n<N bytes of JSON>
//
// There is no teacher file using this exact wire format —
// internal/mcp/transport.go's StdioTransport frames with newline-
// delimited JSON instead — so the byte-accumulation parser itself is
// new code. Its shape (incremental Reader, resilient to arbitrary chunk
// boundaries, drop-and-resume on malformed input) follows the same
// incremental-buffer idiom that file's readLoop uses around bufio.Reader.
package framing

import (
	"bytes"
	"strconv"
	"strings"
)

const headerTerminator = "\r\n\r\n"

// Reader incrementally accumulates bytes fed via Feed and yields complete
// message bodies via Next. It tolerates partial writes split across
// arbitrarily many Feed calls, and recovers from malformed headers or
// bodies by skipping past them rather than failing permanently.
type Reader struct {
	buf bytes.Buffer
}

// NewReader creates an empty Reader.
func NewReader() *Reader {
	return &Reader{}
}

// Feed appends newly received bytes to the internal buffer.
func (r *Reader) Feed(data []byte) {
	r.buf.Write(data)
}

// Next extracts the next complete frame body, if any. It returns
// (body, true) when a full frame is available, or (nil, false) when more
// data is needed. Callers should loop calling Next until it returns
// false after each Feed.
func (r *Reader) Next() ([]byte, bool) {
	for {
		raw := r.buf.Bytes()

		idx := bytes.Index(raw, []byte(headerTerminator))
		if idx < 0 {
			// No full header yet: wait for more bytes. The buffer is
			// not size-limited, so data with no terminator keeps
			// accumulating.
			return nil, false
		}

		header := string(raw[:idx])
		length, ok := parseContentLength(header)
		if !ok {
			// Malformed header: skip past the terminator and resume
			// scanning for the next one.
			r.buf.Next(idx + len(headerTerminator))
			continue
		}

		bodyStart := idx + len(headerTerminator)
		if len(raw) < bodyStart+length {
			// Body not fully arrived yet.
			return nil, false
		}

		body := make([]byte, length)
		copy(body, raw[bodyStart:bodyStart+length])
		r.buf.Next(bodyStart + length)
		return body, true
	}
}

// parseContentLength extracts N from a "Content-Length: N" header block
// (possibly containing other, ignored, header lines).
func parseContentLength(header string) (int, bool) {
	for _, line := range strings.Split(header, "\r\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(parts[0]), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Encode frames a JSON body for outbound transmission.
func Encode(body []byte) []byte {
	header := "Content-Length: " + strconv.Itoa(len(body)) + headerTerminator
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out
}

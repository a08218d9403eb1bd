// Package httpconn implements incremental parsing of HTTP/1.x requests, and
// rendering of responses, for connections driven by a reactor.
package httpconn

import (
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

const (
	// MaxHeaderBytes limits the request line plus headers.
	MaxHeaderBytes = 8 << 10
	// MaxBodyBytes limits the Content-Length of a request.
	MaxBodyBytes = 1 << 20
)

var (
	// ErrMalformed indicates input that is not a valid HTTP/1.x request.
	ErrMalformed = errors.New(`httpconn: malformed request`)

	// ErrTooLarge indicates headers over MaxHeaderBytes, or a body over
	// MaxBodyBytes.
	ErrTooLarge = errors.New(`httpconn: request too large`)
)

var crlf = []byte("\r\n")

// ParseState is the outcome of [Request.Parse].
type ParseState uint8

const (
	// ParseAgain indicates more input is required.
	ParseAgain ParseState = iota
	// ParseDone indicates a complete request.
	ParseDone
	// ParseError indicates the input is not a valid request.
	ParseError
)

func (x ParseState) String() string {
	switch x {
	case ParseAgain:
		return `again`
	case ParseDone:
		return `done`
	case ParseError:
		return `error`
	default:
		return `unknown`
	}
}

type phase uint8

const (
	phaseStartLine phase = iota
	phaseHeaders
	phaseBody
	phaseDone
	phaseError
)

// Request is a request being parsed. The zero value is ready for input.
type Request struct {
	Header textproto.MIMEHeader
	Method string
	// Target is the request target, including any query.
	Target string
	Body   []byte
	Major  int
	Minor  int

	buf []byte
	// off is the parse offset into buf
	off    int
	length int
	// err is set once parsing fails, and is returned from then on
	err   error
	phase phase
}

// Append implements the reactor message contract: it consumes input up to
// the end of the request, leaving anything after it (a pipelined request)
// unconsumed.
func (x *Request) Append(b []byte) (int, bool, error) {
	if x.phase == phaseError {
		return 0, false, x.err
	}
	start := len(x.buf)
	x.buf = append(x.buf, b...)
	switch state, err := x.Parse(); state {
	case ParseDone:
		n := x.off - start
		x.buf = x.buf[:x.off]
		return n, true, nil
	case ParseError:
		return 0, false, err
	default:
		return len(b), false, nil
	}
}

// Parse advances the parser over the buffered input. Once it has returned
// ParseError, it continues to do so, with the same error, until Reset.
func (x *Request) Parse() (state ParseState, err error) {
	if x.phase == phaseError {
		return ParseError, x.err
	}
	defer func() {
		if state == ParseError {
			x.err = err
			x.phase = phaseError
		}
	}()
	for {
		switch x.phase {
		case phaseStartLine:
			line, ok, err := x.line()
			if !ok {
				return x.again(err)
			}
			if err := x.parseStartLine(line); err != nil {
				return ParseError, err
			}
			x.phase = phaseHeaders

		case phaseHeaders:
			line, ok, err := x.line()
			if !ok {
				return x.again(err)
			}
			if len(line) != 0 {
				if err := x.parseHeader(line); err != nil {
					return ParseError, err
				}
				continue
			}
			if err := x.parseLength(); err != nil {
				return ParseError, err
			}
			x.phase = phaseBody

		case phaseBody:
			if len(x.buf)-x.off < x.length {
				return ParseAgain, nil
			}
			x.Body = x.buf[x.off : x.off+x.length]
			x.off += x.length
			x.phase = phaseDone

		case phaseDone:
			return ParseDone, nil

		default:
			return ParseError, x.err
		}
	}
}

func (x *Request) again(err error) (ParseState, error) {
	if err != nil {
		return ParseError, err
	}
	return ParseAgain, nil
}

// line returns the next CRLF terminated line, enforcing MaxHeaderBytes.
func (x *Request) line() ([]byte, bool, error) {
	i := bytes.Index(x.buf[x.off:], crlf)
	if i < 0 {
		if len(x.buf) > MaxHeaderBytes {
			return nil, false, ErrTooLarge
		}
		return nil, false, nil
	}
	line := x.buf[x.off : x.off+i]
	x.off += i + len(crlf)
	if x.off > MaxHeaderBytes {
		return nil, false, ErrTooLarge
	}
	return line, true, nil
}

func (x *Request) parseStartLine(line []byte) error {
	method, rest, ok := strings.Cut(string(line), ` `)
	if !ok || method == `` {
		return fmt.Errorf(`%w: request line %q`, ErrMalformed, line)
	}
	target, proto, ok := strings.Cut(rest, ` `)
	if !ok || !strings.HasPrefix(target, `/`) {
		return fmt.Errorf(`%w: request line %q`, ErrMalformed, line)
	}
	major, minor, ok := parseVersion(proto)
	if !ok {
		return fmt.Errorf(`%w: version %q`, ErrMalformed, proto)
	}
	x.Method = method
	x.Target = target
	x.Major = major
	x.Minor = minor
	x.Header = make(textproto.MIMEHeader)
	return nil
}

func parseVersion(s string) (major, minor int, ok bool) {
	if len(s) != len(`HTTP/1.1`) || !strings.HasPrefix(s, `HTTP/`) || s[6] != '.' {
		return 0, 0, false
	}
	if s[5] < '0' || s[5] > '9' || s[7] < '0' || s[7] > '9' {
		return 0, 0, false
	}
	return int(s[5] - '0'), int(s[7] - '0'), true
}

func (x *Request) parseHeader(line []byte) error {
	key, value, ok := bytes.Cut(line, []byte(`:`))
	if !ok || len(key) == 0 {
		return fmt.Errorf(`%w: header %q`, ErrMalformed, line)
	}
	x.Header.Add(
		textproto.CanonicalMIMEHeaderKey(string(bytes.TrimSpace(key))),
		string(bytes.TrimSpace(value)),
	)
	return nil
}

func (x *Request) parseLength() error {
	v := x.Header.Get(`Content-Length`)
	if v == `` {
		x.length = 0
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf(`%w: content length %q`, ErrMalformed, v)
	}
	if n > MaxBodyBytes {
		return ErrTooLarge
	}
	x.length = n
	return nil
}

// Path returns the target without any query.
func (x *Request) Path() string {
	p, _, _ := strings.Cut(x.Target, `?`)
	return p
}

// KeepAlive reports whether the connection should persist after the
// response, per the version and Connection header.
func (x *Request) KeepAlive() bool {
	conn := strings.ToLower(x.Header.Get(`Connection`))
	if x.Major == 1 && x.Minor >= 1 || x.Major > 1 {
		return conn != `close`
	}
	return conn == `keep-alive`
}

// Complete reports whether the request has been fully parsed.
func (x *Request) Complete() bool { return x.phase == phaseDone }

// Reset prepares x for another request.
func (x *Request) Reset() {
	*x = Request{buf: x.buf[:0]}
}

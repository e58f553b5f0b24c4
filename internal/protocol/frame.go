package protocol

import (
	"bufio"
	"errors"
	"io"
)

// MaxMessageSize bounds a single line-terminated message. A session whose
// receive buffer exceeds this before a '\n' arrives is closed with a
// logged fault, per spec.md §4.1.
const MaxMessageSize = 8 * 1024

// ErrFrameTooLong is returned when a message exceeds MaxMessageSize
// without a terminating newline; the caller must close the session.
var ErrFrameTooLong = errors.New("protocol: frame exceeds message size cap")

// Framer scans an io.Reader for '\n'-terminated messages, enforcing
// MaxMessageSize on the accumulated, not-yet-terminated receive buffer.
// Each session owns exactly one Framer; Framer is not safe for
// concurrent use, matching the "one reader task per session" concurrency
// model in spec.md §5.
type Framer struct {
	r   *bufio.Reader
	acc []byte // append-only receive buffer for the in-progress message
}

// NewFramer wraps r for line framing.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReader(r)}
}

// Next reads and returns the next line-terminated message, with the
// trailing '\n' (and any '\r') stripped. It returns io.EOF when the peer
// closes the connection cleanly, or ErrFrameTooLong when the cap is hit
// at a message boundary (spec.md §8: "receive buffer size never exceeds
// the message cap at message boundary").
func (f *Framer) Next() (string, error) {
	for {
		chunk, err := f.r.ReadSlice('\n')
		f.acc = append(f.acc, chunk...)

		if len(f.acc) > MaxMessageSize {
			f.acc = f.acc[:0]
			return "", ErrFrameTooLong
		}

		if err == nil {
			line := trimEOL(f.acc)
			out := string(line)
			f.acc = f.acc[:0]
			return out, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			// ReadSlice hit its internal buffer without finding '\n' yet;
			// keep accumulating as long as we're under the cap.
			continue
		}
		// io.EOF or a real read error: whatever is left in acc is
		// discarded, matching "peer reset" transport-error handling.
		f.acc = f.acc[:0]
		return "", err
	}
}

func trimEOL(s []byte) []byte {
	n := len(s)
	for n > 0 && (s[n-1] == '\n' || s[n-1] == '\r') {
		n--
	}
	return s[:n]
}

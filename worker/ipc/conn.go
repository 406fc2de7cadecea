package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

const headerSize = 8

// byteOrder is fixed at build time. Server and worker are the same binary,
// so both sides always agree; little-endian is spelled out so a foreign
// worker implementation can still interoperate.
var byteOrder = binary.LittleEndian

// InvalidMessageIDError reports a frame whose ID is outside the receiver's
// expected range or unknown to the message table. The connection is poisoned
// afterwards.
type InvalidMessageIDError struct {
	ID uint32
}

func (e *InvalidMessageIDError) Error() string {
	return fmt.Sprintf("invalid message id %d", e.ID)
}

// ErrPoisoned is returned by every read after an InvalidMessageIDError.
var ErrPoisoned = errors.New("stream poisoned by invalid message id")

// Conn is one side of the duplex framed channel. Reads must come from a
// single goroutine; writes are serialized internally.
type Conn struct {
	r *bufio.Reader
	c []io.Closer

	wmu sync.Mutex
	w   io.Writer

	// Inclusive ID range accepted on reads.
	minID, maxID uint32

	// Maximum accepted payload length; 0 disables the cap.
	maxPayload uint32

	poisoned bool
}

// NewServerConn returns the server side of a channel: it reads worker
// messages (1000–1999) from r and writes server messages to w.
func NewServerConn(r io.Reader, w io.Writer, closers ...io.Closer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: w, c: closers, minID: ResponseOffset, maxID: 2*ResponseOffset - 1}
}

// NewWorkerConn returns the worker side of a channel: it reads server
// messages (0–999) from r and writes worker messages to w.
func NewWorkerConn(r io.Reader, w io.Writer, closers ...io.Closer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: w, c: closers, minID: 0, maxID: ResponseOffset - 1}
}

// SetMaxPayload caps the accepted payload length of inbound frames.
func (c *Conn) SetMaxPayload(n uint32) { c.maxPayload = n }

// Read decodes the next frame. A truncated header or payload yields
// io.ErrUnexpectedEOF (io.EOF if the stream ended cleanly between frames).
// An ID outside the expected range or unknown to the table poisons the
// connection and yields InvalidMessageIDError.
func (c *Conn) Read() (Message, error) {
	if c.poisoned {
		return nil, ErrPoisoned
	}
	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrap(io.ErrUnexpectedEOF, "truncated frame header")
		}
		return nil, err
	}
	id := byteOrder.Uint32(header[0:4])
	length := byteOrder.Uint32(header[4:8])

	factory, known := messageTable[id]
	if !known || id < c.minID || id > c.maxID {
		c.poisoned = true
		return nil, &InvalidMessageIDError{ID: id}
	}
	if c.maxPayload != 0 && length > c.maxPayload {
		c.poisoned = true
		return nil, errors.Errorf("frame payload of %d bytes exceeds cap of %d", length, c.maxPayload)
	}

	msg := factory()
	if length == 0 {
		return msg, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrap(io.ErrUnexpectedEOF, "truncated frame payload")
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, errors.Wrapf(err, "decoding payload of message %d", id)
	}
	return msg, nil
}

// Write encodes one frame. Messages whose payload is the empty object are
// framed with length zero.
func (c *Conn) Write(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "encoding message %d", msg.MessageID())
	}
	if string(payload) == "{}" {
		payload = nil
	}

	var header [headerSize]byte
	byteOrder.PutUint32(header[0:4], msg.MessageID())
	byteOrder.PutUint32(header[4:8], uint32(len(payload)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// Close closes any closers handed to the constructor.
func (c *Conn) Close() error {
	var first error
	for _, cl := range c.c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

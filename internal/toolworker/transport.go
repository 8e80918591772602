package toolworker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aishah914/smolpc-gimp/internal/jsonrpc"
)

const (
	DefaultMaxMessageBytes = 64 * 1024 * 1024
	maxDiagnosticBytes     = 512
)

type inbound struct {
	msg jsonrpc.Message
	err error
}

// Transport frames JSON values as single lines on the worker's stdin and
// decodes lines from its stdout. A single reader goroutine owns stdout so that a
// caller giving up on Receive never leaves a half-read line behind.
type Transport struct {
	writer *bufio.Writer
	stdin  io.Closer

	inbox    chan inbound
	stop     chan struct{}
	done     chan struct{}
	maxBytes int
	readErr  error

	closeOnce sync.Once
}

// NewTransport starts reading stdout immediately. onEOF, when set, runs on the
// reader goroutine once the stream has ended.
func NewTransport(stdin io.WriteCloser, stdout io.Reader, maxBytes int, onEOF func(error)) *Transport {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	t := &Transport{
		writer:   bufio.NewWriter(stdin),
		stdin:    stdin,
		inbox:    make(chan inbound),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		maxBytes: maxBytes,
	}
	go t.readLoop(bufio.NewReader(stdout), onEOF)
	return t
}

// Send writes v as one line and flushes it.
func (t *Transport) Send(v any) error {
	line, err := jsonrpc.Encode(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := t.writer.Write(line); err != nil {
		return &WriteError{Err: err}
	}
	if err := t.writer.Flush(); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// Receive returns the next inbound message. Once the worker's output has ended
// every call returns ErrConnectionClosed.
func (t *Transport) Receive(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case in, ok := <-t.inbox:
		if !ok {
			return jsonrpc.Message{}, ErrConnectionClosed
		}
		return in.msg, in.err
	case <-ctx.Done():
		return jsonrpc.Message{}, ctx.Err()
	}
}

// Done is closed when the reader has seen the end of the worker's output.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err is the error that ended the read loop. Only valid after Done is closed.
func (t *Transport) Err() error {
	return t.readErr
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.stdin.Close()
	})
	return err
}

func (t *Transport) readLoop(reader *bufio.Reader, onEOF func(error)) {
	defer func() {
		close(t.done)
		close(t.inbox)
		if onEOF != nil {
			onEOF(t.readErr)
		}
	}()
	for {
		line, tooLarge, err := readLine(reader, t.maxBytes)
		if tooLarge {
			perr := &jsonrpc.ProtocolError{Line: string(line), Err: errors.New("message too large")}
			if !t.deliver(inbound{err: perr}) {
				return
			}
		} else if len(bytes.TrimSpace(line)) > 0 {
			msg, derr := jsonrpc.Decode(line)
			if !t.deliver(inbound{msg: msg, err: derr}) {
				return
			}
		}
		if err != nil {
			t.readErr = err
			return
		}
	}
}

func (t *Transport) deliver(in inbound) bool {
	select {
	case t.inbox <- in:
		return true
	case <-t.stop:
		t.readErr = ErrConnectionClosed
		return false
	}
}

// readLine reads through the next newline. Lines longer than max are consumed
// but only a diagnostic prefix is kept.
func readLine(r *bufio.Reader, max int) ([]byte, bool, error) {
	var line []byte
	tooLarge := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLarge {
			if len(line)+len(chunk) > max {
				tooLarge = true
				keep := maxDiagnosticBytes - len(line)
				if keep > len(chunk) {
					keep = len(chunk)
				}
				if keep > 0 {
					line = append(line, chunk[:keep]...)
				}
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLarge, err
	}
}

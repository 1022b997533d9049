package platform

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/chatkit/logging"
)

// StdioConfig configures a Stdio adapter.
type StdioConfig struct {
	// RecvBufferSize is the update channel capacity.
	RecvBufferSize int

	// FirstMessageID numbers the synthetic messages returned by sends.
	FirstMessageID int64

	// Logger receives malformed input warnings.
	Logger *logging.Logger
}

// DefaultStdioConfig returns configuration with sensible defaults.
func DefaultStdioConfig() StdioConfig {
	return StdioConfig{
		RecvBufferSize: 100,
		FirstMessageID: 1_000_000,
	}
}

// Stdio is a development harness speaking JSON lines: one Update per input
// line, one Call per output line. It is both a Source and a Caller.
type Stdio struct {
	reader io.Reader
	writer io.Writer
	config StdioConfig
	logger *logging.Logger

	updates chan *Update
	done    chan struct{}
	nextID  atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewStdio creates a stdio adapter.
func NewStdio(r io.Reader, w io.Writer, cfg StdioConfig) *Stdio {
	defaults := DefaultStdioConfig()
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = defaults.RecvBufferSize
	}
	if cfg.FirstMessageID <= 0 {
		cfg.FirstMessageID = defaults.FirstMessageID
	}

	s := &Stdio{
		reader:  r,
		writer:  w,
		config:  cfg,
		logger:  logging.OrNop(cfg.Logger).WithComponent("stdio"),
		updates: make(chan *Update, cfg.RecvBufferSize),
		done:    make(chan struct{}),
	}
	s.nextID.Store(cfg.FirstMessageID - 1)
	return s
}

// Updates returns the channel of parsed updates.
func (s *Stdio) Updates() <-chan *Update {
	return s.updates
}

// Run reads updates until input ends or ctx is done.
func (s *Stdio) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.readLoop(ctx)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// Close stops delivering updates and rejects further calls.
func (s *Stdio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// readLoop parses input lines into updates.
func (s *Stdio) readLoop(ctx context.Context) error {
	defer close(s.updates)

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var u Update
		if err := json.Unmarshal(line, &u); err != nil {
			s.logger.Warn("skipping malformed update", map[string]any{"error": err.Error()})
			continue
		}

		select {
		case s.updates <- &u:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		}
	}
	return scanner.Err()
}

// Call writes the call as one JSON line and returns a synthetic message.
func (s *Stdio) Call(ctx context.Context, call Call) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	_, err = s.writer.Write(append(data, '\n'))
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return sentMessage(call, s.nextID.Add(1)), nil
}

// sentMessage builds the message a send would have produced.
func sentMessage(call Call, id int64) *Message {
	switch call.Method {
	case MethodSendMessage, MethodSendPhoto, MethodSendDocument, MethodForwardMessage:
	default:
		return nil
	}
	msg := &Message{
		MessageID: id,
		Chat:      Chat{ID: call.ChatID},
		Date:      time.Now().Unix(),
		Text:      call.Text,
		Caption:   call.Caption,
	}
	switch call.Method {
	case MethodSendPhoto:
		msg.Photo = []PhotoSize{{FileID: call.FileID}}
	case MethodSendDocument:
		msg.Document = &Document{FileID: call.FileID}
	}
	return msg
}

var (
	_ Source = (*Stdio)(nil)
	_ Caller = (*Stdio)(nil)
)

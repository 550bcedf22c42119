package chiller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-ts/ts-atwhitelight/pkg/log"
)

// Transport errors.
var (
	// ErrAlreadyConnected indicates Connect was called on a live client.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected indicates a command was run without a connection.
	ErrNotConnected = errors.New("not connected")

	// ErrCommandTimeout indicates the chiller did not reply in time.
	ErrCommandTimeout = errors.New("command timed out")
)

// ClientConfig configures a chiller transport client.
type ClientConfig struct {
	// DeviceID is the 2-character protocol device ID, typically "01".
	DeviceID string

	// Addr is the host:port of the chiller's ethernet interface.
	Addr string

	// ConnectTimeout bounds Connect (default 5s).
	ConnectTimeout time.Duration

	// CommandTimeout bounds each command/reply exchange (default 5s).
	CommandTimeout time.Duration

	// Logger receives protocol events (optional).
	Logger log.Logger

	// Slog receives debug logging (optional).
	Slog *slog.Logger
}

// Client owns the TCP connection to the chiller and serializes command
// exchanges: the hardware accepts exactly one command at a time per
// connection, so RunCommand holds a mutex across write and read.
type Client struct {
	config ClientConfig
	connID string

	// commandMu serializes command/reply exchanges on the socket.
	commandMu sync.Mutex

	// connMu guards conn and reader.
	connMu sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewClient creates a chiller client. It does not connect.
func NewClient(config ClientConfig) *Client {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}
	if config.Slog == nil {
		config.Slog = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Client{config: config}
}

// Connected reports whether the client has a live connection.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// ConnectionID returns the UUID assigned to the current connection,
// or "" if disconnected.
func (c *Client) ConnectionID() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.connID
}

// Connect opens the TCP connection. It fails fast with
// ErrAlreadyConnected if a connection is live.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", c.config.Addr)
	if err != nil {
		return fmt.Errorf("dial chiller at %s: %w", c.config.Addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connID = uuid.NewString()
	c.config.Slog.Debug("chiller connected",
		"addr", c.config.Addr, "conn_id", c.connID)
	return nil
}

// Disconnect closes the connection. It is idempotent and safe to call
// while a command is in flight; the in-flight command fails with a
// connection error.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.reader = nil
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	c.config.Slog.Debug("chiller disconnected", "conn_id", c.connID)
	return conn.Close()
}

// RunCommand frames and sends a command body, waits for the
// CR-terminated reply bounded by the command timeout, and returns the
// reply with the trailing checksum and CR stripped.
//
// Exactly one command is in flight at a time. On timeout the internal
// mutex is released and ErrCommandTimeout is returned wrapped; the
// caller decides whether to disconnect.
func (c *Client) RunCommand(ctx context.Context, body string) (string, error) {
	frame, err := FrameCommand(c.config.DeviceID, body)
	if err != nil {
		return "", err
	}

	c.commandMu.Lock()
	defer c.commandMu.Unlock()

	c.connMu.Lock()
	conn := c.conn
	reader := c.reader
	connID := c.connID
	c.connMu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	deadline := time.Now().Add(c.config.CommandTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	c.logFrame(connID, log.DirectionOut, frame)
	if _, err := conn.Write([]byte(frame)); err != nil {
		return "", c.wrapIOError("write command", body, err)
	}

	reply, err := reader.ReadString(FrameTerminator)
	if err != nil {
		return "", c.wrapIOError("read reply", body, err)
	}
	c.logFrame(connID, log.DirectionIn, reply)

	if len(reply) < 3 {
		return "", fmt.Errorf("%w: reply %q shorter than checksum and terminator",
			ErrReplyTooShort, reply)
	}
	// Trailing checksum and CR are stripped; the reply checksum is
	// advisory and compared case-insensitively when verified.
	return reply[:len(reply)-3], nil
}

func (c *Client) wrapIOError(op, body string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		err = fmt.Errorf("%w: %s for %q after %v",
			ErrCommandTimeout, op, body, c.config.CommandTimeout)
	} else {
		err = fmt.Errorf("%s for %q: %w", op, body, err)
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Source:       log.SourceChiller,
		Direction:    log.DirectionNone,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: body,
		},
	})
	return err
}

func (c *Client) logFrame(connID string, direction log.Direction, frame string) {
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Source:       log.SourceChiller,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryFrame,
		Frame: &log.FrameEvent{
			Size: len(frame),
			Data: []byte(strings.TrimSuffix(frame, string(FrameTerminator))),
		},
	})
}

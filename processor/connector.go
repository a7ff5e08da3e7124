package processor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"golang.org/x/sys/unix"
)

// EnvWorkerFD names the file descriptor of a worker's end of the connector.
const EnvWorkerFD = "OP_CASERUNNER_WORKER_FD"

// workerFD is where the first entry of exec.Cmd.ExtraFiles lands in the child.
const workerFD = 3

// Connector is one end of the local stream between the parent and a worker.
// Messages are JSON objects, one per line.
type Connector struct {
	conn net.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex
	reader  *bufio.Reader
}

// NewPair creates a connected socket pair. The Connector is the parent's end;
// the file is handed to the worker and must be closed by the parent once the
// worker has started.
func NewPair() (*Connector, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create socket pair: %w", err)
	}
	parent := os.NewFile(uintptr(fds[0]), "caserunner-parent")
	child := os.NewFile(uintptr(fds[1]), "caserunner-worker")

	c, err := newConnector(parent)
	if err != nil {
		_ = child.Close()
		return nil, nil, err
	}
	return c, child, nil
}

func lookupWorkerFD() (string, bool) {
	v, ok := os.LookupEnv(EnvWorkerFD)
	return v, ok && v != ""
}

// ConnectorFromEnv opens the worker's end inherited from the parent.
func ConnectorFromEnv() (*Connector, error) {
	v, ok := lookupWorkerFD()
	if !ok {
		return nil, fmt.Errorf("%s is not set", EnvWorkerFD)
	}
	fd, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", EnvWorkerFD, v, err)
	}
	return newConnector(os.NewFile(uintptr(fd), "caserunner-worker"))
}

// newConnector takes ownership of f.
func newConnector(f *os.File) (*Connector, error) {
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open connector: %w", err)
	}
	return &Connector{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Send writes v as one line.
func (c *Connector) Send(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(line); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive reads the next line into v.
func (c *Connector) Receive(v any) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// ReadEvents calls fn for every event until the peer closes its end.
// Malformed lines, unknown event names and a trailing partial line are
// dropped.
func (c *Connector) ReadEvents(fn func(event.Event)) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		line, err := c.reader.ReadBytes('\n')
		if n := len(line); n > 0 && line[n-1] == '\n' {
			var ev event.Event
			if json.Unmarshal(line, &ev) == nil && event.Known(ev.Name) {
				fn(ev)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Close closes this end.
func (c *Connector) Close() error {
	return c.conn.Close()
}

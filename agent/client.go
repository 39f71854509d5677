package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client talks to a running agent.
type Client struct {
	// Addr is the agent's host:port.
	Addr string
	// HTTPClient is used for dialing; nil means http.DefaultClient.
	HTTPClient *http.Client
	// Logger may be nil.
	Logger *zap.SugaredLogger
}

func (c *Client) log() *zap.SugaredLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop().Sugar()
}

// ExecRequest describes a child process to run on the agent.
type ExecRequest struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	// Stdin is streamed to the child; nil closes the child's stdin
	// immediately. The child will not see end-of-input until this reader
	// returns io.EOF.
	Stdin io.Reader

	// Stdout and Stderr receive the child's output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// RemoteProcess is a handle to a child running on the agent.
type RemoteProcess struct {
	log     *zap.SugaredLogger
	conn    *websocket.Conn
	session string
	pid     int

	writeMu sync.Mutex

	resultCh chan execResult
}

type execResult struct {
	code int
	err  error
}

// WaitForServer polls the agent's health endpoint until it responds or ctx
// expires.
func (c *Client) WaitForServer(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/healthz", c.Addr)
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for agent at %s: %w", c.Addr, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Exec starts a child on the agent and returns a handle to it. Output is
// demultiplexed into req.Stdout and req.Stderr as it arrives.
func (c *Client) Exec(ctx context.Context, req ExecRequest) (*RemoteProcess, error) {
	url := fmt.Sprintf("ws://%s/v1/exec", c.Addr)
	c.log().Debugw("dialing WebSocket for exec", "URL", url)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn for exec: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := wsjson.Write(ctx, conn, execRequest{
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
		Dir:     req.Dir,
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("sending exec request: %w", err)
	}

	var first serverMessage
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("reading session message: %w", err)
	}

	rp := &RemoteProcess{
		log:      c.log().Named("remote_process"),
		conn:     conn,
		session:  first.Session,
		pid:      first.Pid,
		resultCh: make(chan execResult, 1),
	}

	go rp.receive(ctx, req.Stdout, req.Stderr)
	go rp.sendStdin(ctx, req.Stdin)

	return rp, nil
}

// Pid returns the child's pid on the agent's host.
func (rp *RemoteProcess) Pid() int { return rp.pid }

// Session returns the agent's id for this execution.
func (rp *RemoteProcess) Session() string { return rp.session }

// Wait blocks until the agent reports the child's exit and returns its exit
// status.
func (rp *RemoteProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-rp.resultCh:
		// Put the result back so Wait can be called again.
		rp.resultCh <- res
		return res.code, res.err
	}
}

// Terminate asks the agent to terminate the child gracefully.
func (rp *RemoteProcess) Terminate(ctx context.Context) error {
	return rp.send(ctx, clientMessage{Signal: signalTerminate})
}

// Kill asks the agent to kill the child.
func (rp *RemoteProcess) Kill(ctx context.Context) error {
	return rp.send(ctx, clientMessage{Signal: signalKill})
}

func (rp *RemoteProcess) send(ctx context.Context, msg clientMessage) error {
	rp.writeMu.Lock()
	defer rp.writeMu.Unlock()
	return wsjson.Write(ctx, rp.conn, msg)
}

func (rp *RemoteProcess) receive(ctx context.Context, stdout, stderr io.Writer) {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	for {
		var msg serverMessage
		err := wsjson.Read(ctx, rp.conn, &msg)
		if err != nil {
			rp.log.Debugf("receive loop ended: %s", err)
			rp.resultCh <- execResult{err: fmt.Errorf("connection lost before exit: %w", err)}
			return
		}
		if len(msg.Stdout) > 0 {
			if _, werr := stdout.Write(msg.Stdout); werr != nil {
				rp.log.Debugf("error writing stdout: %s", werr)
			}
		}
		if len(msg.Stderr) > 0 {
			if _, werr := stderr.Write(msg.Stderr); werr != nil {
				rp.log.Debugf("error writing stderr: %s", werr)
			}
		}
		if msg.Exited {
			res := execResult{code: msg.ExitCode}
			if msg.Err != "" {
				res.err = errors.New(msg.Err)
			}
			rp.resultCh <- res
			rp.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (rp *RemoteProcess) sendStdin(ctx context.Context, stdin io.Reader) {
	if stdin != nil {
		buf := make([]byte, 8192)
		for {
			n, err := stdin.Read(buf)
			if n > 0 {
				if serr := rp.send(ctx, clientMessage{Stdin: buf[:n]}); serr != nil {
					rp.log.Debugf("error sending stdin: %s", serr)
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					rp.log.Debugf("stdin reader failed: %s", err)
				}
				break
			}
		}
	}
	if err := rp.send(ctx, clientMessage{StdinDone: true}); err != nil {
		rp.log.Debugf("error sending stdin done: %s", err)
	}
}

package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/redproc/redproc"
)

const readLimit = 32768

// serverStopPlan brings a remote child down when its client disappears
// without asking for an orderly stop.
func serverStopPlan() redproc.StopPlan {
	return redproc.StopPlan{
		First:  redproc.StopAction{Action: redproc.ActionTerminate, Timeout: 5 * time.Second},
		Second: redproc.StopAction{Action: redproc.ActionKill, Timeout: redproc.Infinite},
	}
}

// ExecServer accepts WebSocket connections and runs one child process per
// connection, forwarding its output streams down and its stdin up.
type ExecServer struct {
	logger *zap.Logger
	log    *zap.SugaredLogger
}

// NewExecServer constructs an ExecServer logging through l.
func NewExecServer(l *zap.Logger) *ExecServer {
	return &ExecServer{
		logger: l,
		log:    l.Named("exec_server").Sugar(),
	}
}

func (s *ExecServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	wsConn.SetReadLimit(readLimit)
	s.log.Debug("accepted WebSocket conn")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := &execSession{
		id:     uuid.NewString(),
		log:    s.log.Named("session"),
		logger: s.logger,
		conn:   wsConn,
	}
	session.run(ctx)
}

type execSession struct {
	id     string
	log    *zap.SugaredLogger
	logger *zap.Logger
	conn   *websocket.Conn
	proc   *redproc.Process
}

func (s *execSession) run(ctx context.Context) {
	var req execRequest
	if err := wsjson.Read(ctx, s.conn, &req); err != nil {
		s.log.Debugf("error reading first message: %s", err)
		s.conn.Close(websocket.StatusInternalError, fmt.Sprintf("reading first message: %s", err))
		return
	}
	s.log.Debugw("got exec request", "Session", s.id, "Command", req.Command)

	s.proc = redproc.New(redproc.WithLogger(s.logger))
	defer s.proc.Destroy()

	argv := append([]string{req.Command}, req.Args...)
	err := s.proc.Start(ctx, argv, redproc.Options{
		Env:  req.Env,
		Dir:  req.Dir,
		Stop: serverStopPlan(),
	})
	if err != nil {
		s.log.Debugf("error starting %q: %s", req.Command, err)
		s.conn.Close(websocket.StatusInternalError, fmt.Sprintf("starting process: %s", err))
		return
	}

	pid, _ := s.proc.Pid()
	if err := wsjson.Write(ctx, s.conn, serverMessage{Session: s.id, Pid: pid}); err != nil {
		s.log.Debugf("error sending session message: %s", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readMessages(gctx) })
	g.Go(func() error { return s.forwardAndWait(gctx) })
	if err := g.Wait(); err != nil {
		s.log.Debugf("session %s finished with error: %s", s.id, err)
	}
}

// readMessages consumes stdin bytes and signals from the client until the
// connection goes away.
func (s *execSession) readMessages(ctx context.Context) error {
	closedStdin := false
	for {
		var msg clientMessage
		err := wsjson.Read(ctx, s.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.log.Debug("got normal closure from client, wrapping up")
			return nil
		}
		if err != nil {
			// The client is gone, so nobody is listening anymore. Failing
			// here cancels the group, which stops the drain and lets the
			// session's stop plan bring the child down.
			return fmt.Errorf("reading client message: %w", err)
		}

		for in := msg.Stdin; len(in) > 0 && !closedStdin; {
			n, werr := s.proc.Write(ctx, in)
			if werr != nil {
				s.log.Debugf("error writing stdin: %s", werr)
				break
			}
			in = in[n:]
		}
		if msg.StdinDone && !closedStdin {
			s.proc.Close(redproc.In)
			closedStdin = true
		}

		switch msg.Signal {
		case "":
		case signalTerminate:
			if terr := s.proc.Terminate(); terr != nil {
				s.log.Debugf("terminate failed: %s", terr)
			}
		case signalKill:
			if kerr := s.proc.Kill(); kerr != nil {
				s.log.Debugf("kill failed: %s", kerr)
			}
		default:
			s.log.Debugf("unknown signal %q, ignoring", msg.Signal)
		}
	}
}

// forwardAndWait drains both output streams down the socket, then reports
// the exit status and closes the connection.
func (s *execSession) forwardAndWait(ctx context.Context) error {
	forward := func(stream redproc.Stream, data []byte) bool {
		if stream == redproc.In || len(data) == 0 {
			return true
		}
		msg := serverMessage{}
		if stream == redproc.Err {
			msg.Stderr = data
		} else {
			msg.Stdout = data
		}
		if err := wsjson.Write(ctx, s.conn, msg); err != nil {
			s.log.Debugf("error forwarding %s: %s", stream, err)
			return false
		}
		return true
	}

	if err := s.proc.Drain(ctx, forward, forward); err != nil {
		return fmt.Errorf("draining process: %w", err)
	}

	status, err := s.proc.Wait(ctx, redproc.Infinite)
	msg := serverMessage{Exited: true, ExitCode: status}
	if err != nil {
		msg.Err = err.Error()
	}
	s.log.Debugw("child exited, sending result", "Session", s.id, "ExitCode", status)
	if werr := wsjson.Write(ctx, s.conn, msg); werr != nil {
		return fmt.Errorf("sending exit message: %w", werr)
	}

	s.conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

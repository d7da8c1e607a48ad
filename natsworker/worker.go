// Package natsworker serves playground and grading requests received over NATS.
//
// Workers join a queue group so that each request is handled by exactly one
// instance. Requests and replies are JSON; a request that cannot be decoded
// is answered with an ErrorReply instead of being dropped.
package natsworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/execution"
	"github.com/ascenddev/coderunner/model"
)

// Grader runs graded and playground submissions
type Grader interface {
	Submit(ctx context.Context, sub execution.Submission) (model.TestResult, error)
	Run(ctx context.Context, language, code string) (model.CodeExecutionResult, error)
}

// ExecuteRequest is the payload of <prefix>.execute
type ExecuteRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ErrorReply is sent when a request cannot be served
type ErrorReply struct {
	Error string `json:"error"`
}

// Worker subscribes to the execution subjects and replies with results
type Worker struct {
	cfg    config.NATSConfig
	grader Grader
	logger *zap.Logger

	conn     *nats.Conn
	subs     []*nats.Subscription
	inflight errgroup.Group
	closed   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a worker. It does not connect until Start.
func New(cfg *config.Config, grader Grader, logger *zap.Logger) *Worker {
	w := &Worker{
		cfg:    cfg.NATS,
		grader: grader,
		logger: logger.Named("nats"),
		closed: make(chan struct{}),
	}
	w.inflight.SetLimit(max(cfg.NATS.MaxInFlight, 1))
	return w
}

// ExecuteSubject is the subject of playground runs
func (w *Worker) ExecuteSubject() string {
	return w.cfg.SubjectPrefix + ".execute"
}

// TestsSubject is the subject of graded submissions
func (w *Worker) TestsSubject() string {
	return w.cfg.SubjectPrefix + ".tests"
}

// Start connects to the server and joins the queue group on both subjects
func (w *Worker) Start() error {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	conn, err := nats.Connect(w.cfg.URL,
		nats.Name("coderunner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				w.logger.Warn("disconnected from nats", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			w.logger.Info("reconnected to nats", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(w.closed)
		}),
	)
	if err != nil {
		w.cancel()
		return fmt.Errorf("failed to connect to nats at %s: %w", w.cfg.URL, err)
	}
	w.conn = conn

	handlers := map[string]func(context.Context, []byte) []byte{
		w.ExecuteSubject(): w.HandleExecute,
		w.TestsSubject():   w.HandleTests,
	}
	for subject, handle := range handlers {
		sub, err := conn.QueueSubscribe(subject, w.cfg.QueueGroup, w.dispatch(subject, handle))
		if err != nil {
			conn.Close()
			w.cancel()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		w.subs = append(w.subs, sub)
	}

	w.logger.Info("nats worker started",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("queue_group", w.cfg.QueueGroup),
		zap.Strings("subjects", []string{w.ExecuteSubject(), w.TestsSubject()}))

	return nil
}

// Stop drains the subscriptions, waits for in-flight requests to reply and
// then drains the connection. When ctx expires first, running requests are
// cancelled and the connection closed.
func (w *Worker) Stop(ctx context.Context) error {
	if w.conn == nil {
		return nil
	}

	for _, sub := range w.subs {
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			w.logger.Warn("failed to drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}

	if err := w.awaitSubscriptions(ctx); err != nil {
		return w.abort(err)
	}

	replied := make(chan struct{})
	go func() {
		_ = w.inflight.Wait()
		close(replied)
	}()
	select {
	case <-replied:
	case <-ctx.Done():
		return w.abort(ctx.Err())
	}

	if err := w.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		w.logger.Warn("failed to drain nats connection", zap.Error(err))
		w.conn.Close()
	}

	select {
	case <-w.closed:
		w.cancel()
		w.logger.Info("nats worker stopped")
		return nil
	case <-ctx.Done():
		return w.abort(ctx.Err())
	}
}

// awaitSubscriptions returns once every drained subscription has delivered
// its pending messages and been removed.
func (w *Worker) awaitSubscriptions(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		active := false
		for _, sub := range w.subs {
			if sub.IsValid() {
				active = true
				break
			}
		}
		if !active {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) abort(err error) error {
	w.cancel()
	w.conn.Close()
	return fmt.Errorf("nats worker did not stop in time: %w", err)
}

// dispatch runs handle on the bounded in-flight group and responds to the
// reply subject. Go blocks the subscription while the group is full.
func (w *Worker) dispatch(subject string, handle func(context.Context, []byte) []byte) nats.MsgHandler {
	return func(msg *nats.Msg) {
		w.inflight.Go(func() error {
			reply := handle(w.ctx, msg.Data)
			if msg.Reply == "" {
				w.logger.Debug("request without reply subject", zap.String("subject", subject))
				return nil
			}
			if err := msg.Respond(reply); err != nil {
				w.logger.Error("failed to send reply", zap.String("subject", subject), zap.Error(err))
			}
			return nil
		})
	}
}

// HandleExecute serves one playground request
func (w *Worker) HandleExecute(ctx context.Context, data []byte) []byte {
	var req ExecuteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		w.logger.Warn("malformed execute request", zap.Error(err))
		return errorReply("invalid execute request: %v", err)
	}

	result, err := w.grader.Run(ctx, req.Language, req.Code)
	if err != nil {
		w.logger.Error("code execution failed", zap.String("language", req.Language), zap.Error(err))
		return errorReply("execution failed: %v", err)
	}

	return encode(result)
}

// HandleTests serves one graded submission
func (w *Worker) HandleTests(ctx context.Context, data []byte) []byte {
	var sub execution.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		w.logger.Warn("malformed test request", zap.Error(err))
		return errorReply("invalid test request: %v", err)
	}

	result, err := w.grader.Submit(ctx, sub)
	if err != nil {
		w.logger.Error("test run failed", zap.Error(err))
		return errorReply("test run failed: %v", err)
	}

	w.logger.Info("test run completed",
		zap.Bool("success", result.Success),
		zap.Int("passed", result.PassedCount()),
		zap.Int("total", len(result.TestResults)))

	return encode(result)
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return errorReply("failed to encode result: %v", err)
	}
	return data
}

func errorReply(format string, args ...any) []byte {
	data, _ := json.Marshal(ErrorReply{Error: fmt.Sprintf(format, args...)})
	return data
}

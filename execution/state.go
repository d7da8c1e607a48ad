package execution

import (
	"time"

	"go.uber.org/zap"
)

// State is a step of one execution attempt
type State string

const (
	StateQueued          State = "queued"
	StateFilesPrepared   State = "files_prepared"
	StateSandboxAcquired State = "sandbox_acquired"
	StateRunning         State = "running"
	StateResultCollected State = "result_collected"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateTimedOut        State = "timed_out"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

type attempt struct {
	id      string
	state   State
	logger  *zap.Logger
	started time.Time
}

// transition moves the attempt to the given state. A terminal state is final:
// later transitions are logged and ignored.
func (a *attempt) transition(to State, fields ...zap.Field) {
	from := a.state
	if from.Terminal() {
		a.logger.Warn("ignoring transition out of terminal state",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	a.state = to

	fields = append(fields,
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Duration("elapsed", time.Since(a.started)),
	)
	if to == StateTimedOut {
		a.logger.Warn("execution state changed", fields...)
		return
	}
	a.logger.Info("execution state changed", fields...)
}

func (a *attempt) fail(err error) {
	a.logger.Error("execution failed", zap.String("state", string(a.state)), zap.Error(err))
	a.transition(StateFailed)
}

func (a *attempt) cancel() {
	a.transition(StateCancelled)
}

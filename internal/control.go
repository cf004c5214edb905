package internal

import "fmt"

// Stop represents the reason for flow control.
type Stop int

// Control flow reasons.
const (
	// NoStop indicates normal execution.
	NoStop Stop = iota
	// ContinueStop should be interpreted by loops as a signal to restart the
	// loop immediately.
	ContinueStop
	// BreakStop should be interpreted by loops as a signal to exit the loop.
	BreakStop
	// ReturnStop should be interpreted by loops and blocks as a signal to
	// exit. The function being executed holds the result.
	ReturnStop
)

var stopNames = [...]string{"normal", "continue", "break", "return"}

// String returns a string representation of the Stop.
func (s Stop) String() string {
	if s < NoStop || s > ReturnStop {
		return fmt.Sprintf("Stop(%d)", s)
	}
	return stopNames[s]
}

// State is the evaluator's position in its processing cycle.
type State int32

// Evaluator states.
const (
	// Idle means no script is running.
	Idle State = iota
	// ParsingStatement means the evaluator is reading a statement.
	ParsingStatement
	// ExecutingExpression means the evaluator is computing a value.
	ExecutingExpression
	// ErrorPropagating means an exception is unwinding toward a handler.
	ErrorPropagating
)

var stateNames = [...]string{"idle", "parsing statement", "executing expression", "error propagating"}

func (s State) String() string {
	if s < Idle || s > ErrorPropagating {
		return fmt.Sprintf("State(%d)", s)
	}
	return stateNames[s]
}

package ipc

import "testatlas/internal/provider"

// EventType represents the type of a run-stream event
type EventType string

const (
	EventTypeRunBegin  EventType = "runBegin"
	EventTypeTestBegin EventType = "testBegin"
	EventTypeTestEnd   EventType = "testEnd"
	EventTypeRunError  EventType = "runError"
	EventTypeRunEnd    EventType = "runEnd"
)

// Event is the base interface for all run-stream events
type Event interface {
	Type() EventType
}

// RunBeginEvent carries the suite structure the runner observed when the
// run started. The structure may be partial for files not yet reached.
type RunBeginEvent struct {
	EventType EventType `json:"eventType"`
	Payload   struct {
		Suites []provider.ProjectSuite `json:"suites"`
	} `json:"payload"`
}

func (e RunBeginEvent) Type() EventType { return EventTypeRunBegin }

// TestBeginEvent indicates a test case has started executing
type TestBeginEvent struct {
	EventType EventType `json:"eventType"`
	Payload   struct {
		Location provider.Location `json:"location"`
		Title    string            `json:"title"`
	} `json:"payload"`
}

func (e TestBeginEvent) Type() EventType { return EventTypeTestBegin }

// TestEndEvent carries the terminal result of one test case
type TestEndEvent struct {
	EventType EventType `json:"eventType"`
	Payload   struct {
		Location provider.Location   `json:"location"`
		Title    string              `json:"title"`
		Result   provider.TestResult `json:"result"`
	} `json:"payload"`
}

func (e TestEndEvent) Type() EventType { return EventTypeTestEnd }

// RunErrorEvent carries a non-fatal error emitted during the run
type RunErrorEvent struct {
	EventType EventType `json:"eventType"`
	Payload   struct {
		Error provider.TestError `json:"error"`
	} `json:"payload"`
}

func (e RunErrorEvent) Type() EventType { return EventTypeRunError }

// RunEndEvent indicates the runner has finished
type RunEndEvent struct {
	EventType EventType `json:"eventType"`
	Payload   struct {
		Failed bool `json:"failed"`
	} `json:"payload"`
}

func (e RunEndEvent) Type() EventType { return EventTypeRunEnd }

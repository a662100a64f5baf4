package engine

// Step names one stage of a flow, in execution order.
type Step string

const (
	StepSync     Step = "sync"
	StepSelect   Step = "select"
	StepWitness  Step = "witness"
	StepProve    Step = "prove"
	StepVerify   Step = "verify"
	StepChunks   Step = "chunks"
	StepSubmit   Step = "submit"
	StepCommit   Step = "commit"
	StepRegister Step = "register"
)

// StepState is the lifecycle of a step within a running flow.
type StepState string

const (
	StepIdle    StepState = "idle"
	StepRunning StepState = "running"
	StepSuccess StepState = "success"
	StepError   StepState = "error"
)

// StatusFunc observes step transitions of a flow. err is non-nil only
// when state is StepError.
type StatusFunc func(step Step, state StepState, err error)

// stepRunner reports transitions around each stage so callers can render
// progress. A nil observer is a no-op.
type stepRunner struct {
	observe StatusFunc
}

func (s *stepRunner) run(step Step, fn func() error) error {
	if s.observe != nil {
		s.observe(step, StepRunning, nil)
	}
	if err := fn(); err != nil {
		if s.observe != nil {
			s.observe(step, StepError, err)
		}
		return err
	}
	if s.observe != nil {
		s.observe(step, StepSuccess, nil)
	}
	return nil
}

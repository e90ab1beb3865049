package pipeline

import "errors"

// StepResult is the outcome of one setup step.
type StepResult struct {
	Stage string
	Op    string
	Err   error
}

// SetupReport accumulates setup step failures so a caller can tell a fatal
// setup from a degraded one.
type SetupReport struct {
	Steps []StepResult
}

// Record notes a step. Successful steps are not stored.
func (r *SetupReport) Record(stage, op string, err error) {
	if err == nil {
		return
	}
	r.Steps = append(r.Steps, StepResult{Stage: stage, Op: op, Err: err})
}

// OK reports whether every step succeeded.
func (r *SetupReport) OK() bool { return len(r.Steps) == 0 }

// Fatal reports whether any recorded failure is fatal.
func (r *SetupReport) Fatal() bool {
	for _, s := range r.Steps {
		if IsFatal(s.Err) {
			return true
		}
	}
	return false
}

// Degraded returns the non-fatal failures.
func (r *SetupReport) Degraded() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if !IsFatal(s.Err) {
			out = append(out, s)
		}
	}
	return out
}

// Err joins every recorded failure, or returns nil.
func (r *SetupReport) Err() error {
	errs := make([]error, 0, len(r.Steps))
	for _, s := range r.Steps {
		errs = append(errs, s.Err)
	}
	return errors.Join(errs...)
}

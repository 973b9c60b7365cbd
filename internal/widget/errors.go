package widget

import "fmt"

// ScriptLoadError is returned after every load attempt failed. Fatal for the
// current session; callers do not retry it automatically.
type ScriptLoadError struct {
	Attempts int
	Err      error
}

func (e *ScriptLoadError) Error() string {
	return fmt.Sprintf("widget: script load failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ScriptLoadError) Unwrap() error { return e.Err }

// MountError is returned once every mount retry has been used up.
type MountError struct {
	Attempts int
	Err      error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("widget: form mount failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

// PreconditionError marks a programmer error (missing container, mounting
// before the script is ready). Never retried.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "widget: precondition violated: " + e.Reason
}

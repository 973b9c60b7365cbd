// Package widget drives the vendor's embedded checkout form: loading the
// script resource into the host page and mounting the iframe form bound to a
// session.
package widget

import "fmt"

// ScriptStatus tracks the vendor script resource lifecycle.
type ScriptStatus int

const (
	ScriptUnloaded ScriptStatus = iota
	ScriptLoading
	ScriptReady
	ScriptFailed
)

func (s ScriptStatus) String() string {
	switch s {
	case ScriptUnloaded:
		return "unloaded"
	case ScriptLoading:
		return "loading"
	case ScriptReady:
		return "ready"
	case ScriptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FormStatus tracks the embedded form lifecycle.
type FormStatus int

const (
	FormUnmounted FormStatus = iota
	FormMounting
	FormMounted
	FormFailed
)

func (s FormStatus) String() string {
	switch s {
	case FormUnmounted:
		return "unmounted"
	case FormMounting:
		return "mounting"
	case FormMounted:
		return "mounted"
	case FormFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoadState is the per-orchestrator widget state. It is a plain value object,
// deliberately separate from any rendering concern, so retry logic is
// testable without a surface.
type LoadState struct {
	Script  ScriptStatus
	Form    FormStatus
	Attempt int
}

// SetForm transitions the form status. The form may only leave UNMOUNTED once
// the script is READY.
func (s *LoadState) SetForm(status FormStatus) error {
	if s.Form == FormUnmounted && status != FormUnmounted && s.Script != ScriptReady {
		return fmt.Errorf("widget: form cannot leave unmounted while script is %s", s.Script)
	}
	s.Form = status
	return nil
}

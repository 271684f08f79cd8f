package stage

import "fmt"

// Kind is the control decision a stage returns.
type Kind int

const (
	KindContinue Kind = iota
	KindGoto
	KindHalt
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindGoto:
		return "goto"
	case KindHalt:
		return "halt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Class groups halt reasons by the error taxonomy.
type Class string

const (
	ClassPolicy         Class = "policy"
	ClassInfrastructure Class = "infrastructure"
	ClassInvariant      Class = "invariant"
)

// Stable reason codes shared across stages.
const (
	CodeInfrastructure = "infrastructure-error"
	CodeInvariant      = "invariant-violation"
	CodeUnknownTarget  = "unknown-goto-target"
	CodeRedirectLoop   = "redirect-loop"
	CodeCanceled       = "canceled"
)

// Reason explains a Goto or Halt.
type Reason struct {
	Code    string
	Message string
	Class   Class
}

func (r Reason) String() string {
	if r.Message == "" {
		return r.Code
	}
	return r.Code + ": " + r.Message
}

// Signal is the control value a stage returns to the driver.
type Signal struct {
	Kind   Kind
	Target string
	Reason Reason
}

// Continue advances to the next stage.
func Continue() Signal {
	return Signal{Kind: KindContinue}
}

// Goto detours to the named stage after a policy rejection.
func Goto(target string, code, message string) Signal {
	return Signal{Kind: KindGoto, Target: target, Reason: Reason{Code: code, Message: message, Class: ClassPolicy}}
}

// Halt ends the run after a policy rejection.
func Halt(code, message string) Signal {
	return Signal{Kind: KindHalt, Reason: Reason{Code: code, Message: message, Class: ClassPolicy}}
}

// Stop ends the run successfully before the remaining stages; no rejection
// is implied.
func Stop(code, message string) Signal {
	return Signal{Kind: KindHalt, Reason: Reason{Code: code, Message: message}}
}

// Reject returns a Goto when target is configured and a Halt otherwise.
func Reject(target, code, message string) Signal {
	if target != "" {
		return Goto(target, code, message)
	}
	return Halt(code, message)
}

func (s Signal) String() string {
	switch s.Kind {
	case KindGoto:
		return fmt.Sprintf("goto(%s) %s", s.Target, s.Reason)
	case KindHalt:
		return fmt.Sprintf("halt %s", s.Reason)
	default:
		return "continue"
	}
}

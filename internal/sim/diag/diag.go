package diag

// Severity classifies a diagnostic event. Nothing in the runtime aborts the
// process; the severity only tells consumers how loud to be about it.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Diagnostic codes. Info-level events carry no code.
const (
	// A structural violation: unbalanced cutscene stack, double-resume,
	// replacing an already-installed override. State is clamped to the
	// nearest consistent configuration and execution continues.
	CodeStructuralViolation = "W_STRUCTURAL_VIOLATION"

	// An uncaught failure inside a running task. Terminates only that task.
	CodeTaskFault = "E_TASK_FAULT"

	// A mutation attempted outside the accessor surface, or with arguments
	// the model rejects (unknown state variant, pop of an empty costume
	// stack). Ignored with a warning.
	CodeInvariantBreach = "W_INVARIANT_BREACH"

	// A task was forcibly terminated, as opposed to running to completion.
	CodeTaskKilled = "I_TASK_KILLED"
)

var knownCodes = map[string]struct{}{
	CodeStructuralViolation: {},
	CodeTaskFault:           {},
	CodeInvariantBreach:     {},
	CodeTaskKilled:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Event is one structured diagnostic record. Subject follows the
// "noun.verb" convention ("cutscene.start", "sector.active",
// "script.complete"); Detail is free-form.
type Event struct {
	Frame    uint64   `json:"frame"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Subject  string   `json:"subject"`
	Detail   string   `json:"detail,omitempty"`
}

// Sink receives diagnostic events. Implementations must not block the
// frame loop; buffered or fire-and-forget writers only.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Nop discards all events.
var Nop Sink = SinkFunc(func(Event) {})

func Info(subject, detail string) Event {
	return Event{Severity: SeverityInfo, Subject: subject, Detail: detail}
}

func Warn(code, subject, detail string) Event {
	return Event{Severity: SeverityWarn, Code: code, Subject: subject, Detail: detail}
}

func Error(code, subject, detail string) Event {
	return Event{Severity: SeverityError, Code: code, Subject: subject, Detail: detail}
}

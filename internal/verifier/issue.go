package verifier

import (
	"cmp"
	"fmt"
	"slices"
)

// Severity is the weight of an issue. Errors block instrumentation,
// warnings never do.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule identifiers. They are stable and appear in reports and metrics.
const (
	RuleEntryDeclaration      = "entry-declaration"
	RuleEntryCallContext      = "entry-call-context"
	RulePayable               = "payable"
	RuleRedPayable            = "red-payable"
	RuleThrowsExceptions      = "throws-exceptions"
	RuleSelfCharged           = "self-charged"
	RuleWhitelistedAnnotation = "whitelisted-annotation"
	RuleModifiers             = "modifiers"
	RuleSubroutines           = "subroutines"
	RuleThisUpdate            = "this-update"
	RuleStaticWrite           = "static-write"
	RuleWhitelist             = "whitelist"
	RuleCaller                = "caller"
	RuleLambdaTarget          = "lambda-target"
	RuleUncheckedCatch        = "unchecked-catch"
	RuleView                  = "view"
	RuleCodeShape             = "code-shape"

	RuleAnnotationConsistency = "annotation-consistency"
	RuleBootstrap             = "bootstrap"
	RulePackage               = "package"
	RuleStorageFields         = "storage-fields"
	RuleExported              = "exported"
)

// Issue is one finding. Line is -1 when no source line is known and PC is
// -1 for issues that do not concern one instruction.
type Issue struct {
	Severity   Severity `json:"severity"`
	Class      string   `json:"class"`
	Method     string   `json:"method,omitempty"`
	Descriptor string   `json:"descriptor,omitempty"`
	Line       int      `json:"line"`
	Rule       string   `json:"rule"`
	PC         int      `json:"pc"`
	Message    string   `json:"message"`
}

// Where renders the location of the issue as class.method:line.
func (i Issue) Where() string {
	s := i.Class
	if i.Method != "" {
		s += "." + i.Method
	}
	if i.Line >= 0 {
		s += fmt.Sprintf(":%d", i.Line)
	}
	return s
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s [%s] %s", i.Where(), i.Severity, i.Rule, i.Message)
}

func compareIssues(a, b Issue) int {
	return cmp.Or(
		cmp.Compare(a.Class, b.Class),
		cmp.Compare(a.Method, b.Method),
		cmp.Compare(a.Line, b.Line),
		cmp.Compare(a.Rule, b.Rule),
		cmp.Compare(a.Descriptor, b.Descriptor),
		cmp.Compare(a.PC, b.PC),
		cmp.Compare(a.Message, b.Message),
	)
}

// SortIssues orders issues by class, method, line and rule. Descriptor, pc
// and message break the remaining ties.
func SortIssues(issues []Issue) {
	slices.SortStableFunc(issues, compareIssues)
}

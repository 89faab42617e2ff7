package whitelist

import "fmt"

// Kind names a proof obligation.
type Kind string

const (
	// MustBeFalse requires a boolean argument to be false.
	MustBeFalse Kind = "mustBeFalse"
	// MustRedefineHashCode requires the value's class to override
	// Object.hashCode, so that the result does not depend on identity.
	MustRedefineHashCode Kind = "mustRedefineHashCode"
	// MustRedefineHashCodeOrToString requires an override of
	// Object.hashCode or Object.toString.
	MustRedefineHashCodeOrToString Kind = "mustRedefineHashCodeOrToString"
)

// Receiver is the Operand of an obligation on the receiver.
const Receiver = -1

// Obligation is a predicate over one operand of a call.
type Obligation struct {
	Operand int // Receiver or a zero-based argument index
	Kind    Kind
}

// Message is the failure message of o for a call to method (a
// human-readable member name).
func (o Obligation) Message(method string) string {
	who := "the actual parameter of " + method
	if o.Operand == Receiver {
		who = "the receiver of " + method
	}
	switch o.Kind {
	case MustBeFalse:
		return who + " must be false"
	case MustRedefineHashCode:
		return who + " must redefine Object.hashCode()"
	case MustRedefineHashCodeOrToString:
		return who + " must redefine Object.hashCode() or Object.toString()"
	}
	return fmt.Sprintf("%s violates %s", who, o.Kind)
}

// Entry is one whitelisted member. Method descriptors start with '(';
// anything else is a field.
type Entry struct {
	Owner       string
	Name        string
	Descriptor  string
	Since       int
	Until       int // 0 means no upper bound
	Obligations []Obligation
}

// IsField reports whether e whitelists a field.
func (e *Entry) IsField() bool {
	return len(e.Descriptor) > 0 && e.Descriptor[0] != '('
}

// Applies reports whether e is in force at verification version v.
func (e *Entry) Applies(v int) bool {
	return e.Since <= v && (e.Until == 0 || v < e.Until)
}

// Signature is owner.name descriptor.
func (e *Entry) Signature() string {
	return e.Owner + "." + e.Name + e.Descriptor
}

// TypeInfo describes a platform type known to the table.
type TypeInfo struct {
	Name              string
	Super             string // empty only for java/lang/Object and interfaces
	Interfaces        []string
	Interface         bool
	Enum              bool
	RedefinesHashCode bool
	RedefinesToString bool
}

// Hierarchy answers questions about platform types.
type Hierarchy interface {
	Type(name string) (TypeInfo, bool)
}

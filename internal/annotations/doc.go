// Package annotations reads the Takamaka semantic tags of classes, methods
// and fields and resolves them through overriding.
//
// Tags are recognised by descriptor under io/takamaka/code/lang: the entry
// tag is FromContract, whose optional class element is the bound type of
// the caller.
package annotations

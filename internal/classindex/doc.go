// Package classindex loads the classes of one run and answers hierarchy
// and classification queries over them.
//
// An Index is built from the application module and its classpath. Types
// the inputs extend but do not carry (java/lang/Object, String, the
// exception types) come from the platform hierarchy declared by the
// whitelist table. Every ancestor of a loaded class must resolve to one or
// the other, otherwise the build fails with a *MalformedInputError.
//
// Answers are memoised per Index. An Index never shares state with another
// Index, so concurrent runs over distinct inputs do not interfere.
package classindex

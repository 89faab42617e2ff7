// Package classfile reads, edits and writes JVM class files.
//
// The package is the byte-level foundation of moka: the Class Index builds
// on Parse, the Verifier on Decode and Dataflow, and the Instrumentor on
// Encode, the StackMapTable codec and the Builder.
//
// # Invariants
//
//   - Input is adversarial. Every length and constant-pool index is checked
//     before use and every failure is a *FormatError; nothing panics.
//   - Bytes reproduces the parsed input byte-for-byte unless a member's Code
//     was replaced with SetCode or members were appended.
//   - New constants are appended in call order, so two identical edit
//     sequences produce identical output.
//   - Branch operands of decoded instructions are instruction indices, not
//     byte offsets. Offsets only exist in Instruction.PC and are recomputed
//     by Encode.
package classfile

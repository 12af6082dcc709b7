// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package program provides the whole-program representation that the search
// engine reasons about. It is intentionally small: the symbolic interpreter
// owns the real bytecode, this package only mirrors the parts that steer the
// search.
//
// # Core Concepts
//
//   - Module: The root container. It owns every Function and hands out stable
//     instruction identifiers in creation order.
//
//   - Function: A named unit with ordered parameter types. A Function without
//     blocks is a declaration (an external callee).
//
//   - Block: A straight-line run of instructions. The last instruction is the
//     terminator, and Succs lists the blocks control can move to next.
//
//   - Instruction: An opaque program point. Calls carry either a direct Callee
//     or, for indirect calls, the argument types used by call resolution.
//
// Why a separate program package?
//
// The graph builder, filters and utilities only ever need program points and
// their relations. Keeping the model independent of the loader lets tests build
// tiny modules by hand while production code loads real Go packages through
// the ssaload adapter.
//
// Any mutation of a Module bumps its Version. Analyses built over an older
// version must be rebuilt, never patched.
package program

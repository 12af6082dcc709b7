// Package solver defines the constraint-solving capability consumed by the
// engine and provides a small reference implementation.
package solver

import (
	"context"
	"errors"

	"github.com/vk/symsteer/internal/expr"
)

// ErrUnsat is returned by Solve when the constraints have no model.
var ErrUnsat = errors.New("constraints are unsatisfiable")

// ErrBudget is returned when the search gives up before deciding.
var ErrBudget = errors.New("solver budget exhausted")

// Solver decides satisfiability of a conjunction of boolean expressions.
type Solver interface {
	// MayBeTrue reports whether the constraints admit at least one model.
	MayBeTrue(ctx context.Context, constraints []expr.Expr) (bool, error)
	// Solve returns concrete bytes for each array, in order.
	Solve(ctx context.Context, constraints []expr.Expr, arrays []*expr.Array) ([][]byte, error)
}

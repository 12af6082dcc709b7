package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/symsteer/internal/expr"
)

func rd(a *expr.Array, i int) expr.Expr { return expr.Read{Array: a, Index: i} }
func b(v uint64) expr.Expr             { return expr.NewConst(v, expr.Byte) }

func TestLocal_Solve(t *testing.T) {
	ctx := context.Background()
	x := expr.NewArray("x", 2)
	y := expr.NewArray("y", 2)
	unused := expr.NewArray("unused", 3)

	s := NewLocal()
	got, err := s.Solve(ctx, []expr.Expr{
		expr.Eq(rd(x, 0), b(7)),
		expr.Eq(rd(y, 0), rd(x, 0)),
		expr.And(expr.Ult(b(200), rd(y, 1)), expr.Not{X: expr.Eq(rd(y, 1), b(201))}),
	}, []*expr.Array{x, y, unused})
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0}, got[0])
	assert.Equal(t, []byte{7, 202}, got[1])
	assert.Equal(t, []byte{0, 0, 0}, got[2])
}

func TestLocal_MayBeTrue(t *testing.T) {
	ctx := context.Background()
	x := expr.NewArray("x", 1)
	// Two arrays sharing a name stay distinct.
	x2 := expr.NewArray("x", 1)

	testCases := []struct {
		name        string
		constraints []expr.Expr
		want        bool
	}{
		{"empty", nil, true},
		{"conflicting constants", []expr.Expr{expr.Eq(rd(x, 0), b(1)), expr.Eq(rd(x, 0), b(2))}, false},
		{"conflict through equality", []expr.Expr{expr.Eq(rd(x, 0), b(1)), expr.Eq(rd(x2, 0), b(2)), expr.Eq(rd(x, 0), rd(x2, 0))}, false},
		{"same name different arrays", []expr.Expr{expr.Eq(rd(x, 0), b(1)), expr.Eq(rd(x2, 0), b(2))}, true},
		{"wide constant", []expr.Expr{expr.Eq(rd(x, 0), expr.NewConst(300, 16))}, false},
		{"false literal", []expr.Expr{expr.False}, false},
		{"enumerated unsat", []expr.Expr{expr.Ult(rd(x, 0), b(1)), expr.Not{X: expr.Eq(rd(x, 0), b(0))}}, false},
		{"add", []expr.Expr{expr.Eq(expr.Add(rd(x, 0), b(1)), b(0))}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := NewLocal().MayBeTrue(ctx, tc.constraints)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestLocal_Errors(t *testing.T) {
	x := expr.NewArray("x", 3)
	contradiction := []expr.Expr{expr.Eq(rd(x, 0), b(1)), expr.Not{X: expr.Eq(rd(x, 0), b(1))}}

	_, err := (&Local{Budget: 10}).Solve(context.Background(), []expr.Expr{expr.Ult(b(250), expr.Add(rd(x, 0), rd(x, 1)))}, []*expr.Array{x})
	assert.ErrorIs(t, err, ErrBudget)

	_, err = NewLocal().Solve(context.Background(), contradiction, []*expr.Array{x})
	assert.ErrorIs(t, err, ErrUnsat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLocal().MayBeTrue(ctx, []expr.Expr{expr.Ult(b(3), rd(x, 0))})
	assert.ErrorIs(t, err, context.Canceled)
}

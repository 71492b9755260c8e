package ir

import "math"

// ArithOp is an arithmetic operator usable in calculations and bind actions.
type ArithOp string

const (
	OpAdd ArithOp = "+"
	OpSub ArithOp = "-"
	OpMul ArithOp = "*"
	OpDiv ArithOp = "/"
)

// ValidArithOps lists every arithmetic operator.
var ValidArithOps = map[ArithOp]bool{
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true,
}

// Arith applies op to two numeric values.
//
// Int op Int stays Int and is overflow-checked; integer division truncates
// toward zero. Any Float operand promotes the result to Float. Overflow,
// division by zero and non-finite results are ArithmeticErrors; non-numeric
// operands are TypeMismatches.
func Arith(op ArithOp, a, b Value) (Value, error) {
	if !a.Kind().IsNumeric() || !b.Kind().IsNumeric() {
		return nil, NewTypeMismatchError(string(op), a, b)
	}
	x, xInt := a.(Int)
	y, yInt := b.(Int)
	if xInt && yInt {
		return arithInt(op, int64(x), int64(y))
	}
	return arithFloat(op, toFloat(a), toFloat(b))
}

func toFloat(v Value) float64 {
	switch n := v.(type) {
	case Int:
		return float64(n)
	case Float:
		return float64(n)
	default:
		return math.NaN()
	}
}

func arithInt(op ArithOp, x, y int64) (Value, error) {
	switch op {
	case OpAdd:
		r := x + y
		if (r > x) != (y > 0) {
			return nil, NewArithmeticError("integer overflow: %d + %d", x, y)
		}
		return Int(r), nil
	case OpSub:
		r := x - y
		if (r < x) != (y > 0) {
			return nil, NewArithmeticError("integer overflow: %d - %d", x, y)
		}
		return Int(r), nil
	case OpMul:
		if x == 0 || y == 0 {
			return Int(0), nil
		}
		r := x * y
		if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return nil, NewArithmeticError("integer overflow: %d * %d", x, y)
		}
		return Int(r), nil
	case OpDiv:
		if y == 0 {
			return nil, NewArithmeticError("division by zero: %d / 0", x)
		}
		if x == math.MinInt64 && y == -1 {
			return nil, NewArithmeticError("integer overflow: %d / %d", x, y)
		}
		return Int(x / y), nil
	default:
		return nil, NewInvalidRuleError("unknown arithmetic operator %q", op)
	}
}

func arithFloat(op ArithOp, x, y float64) (Value, error) {
	var r float64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		if y == 0 {
			return nil, NewArithmeticError("division by zero: %g / 0", x)
		}
		r = x / y
	default:
		return nil, NewInvalidRuleError("unknown arithmetic operator %q", op)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil, NewArithmeticError("non-finite result: %g %s %g", x, op, y)
	}
	return Float(r), nil
}

package calc

import (
	"fmt"
	"math"
)

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

type function struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	fn               func(args []float64) (float64, error)
}

var functions = map[string]function{
	"abs":       {1, 1, func(a []float64) (float64, error) { return math.Abs(a[0]), nil }},
	"round":     {1, 2, round},
	"pow":       {2, 2, func(a []float64) (float64, error) { return pow(a[0], a[1]) }},
	"max":       {1, -1, extreme(func(a, b float64) bool { return a > b })},
	"min":       {1, -1, extreme(func(a, b float64) bool { return a < b })},
	"sqrt":      {1, 1, domain(math.Sqrt, func(x float64) bool { return x >= 0 })},
	"sin":       {1, 1, unary(math.Sin)},
	"cos":       {1, 1, unary(math.Cos)},
	"tan":       {1, 1, unary(math.Tan)},
	"asin":      {1, 1, domain(math.Asin, func(x float64) bool { return x >= -1 && x <= 1 })},
	"acos":      {1, 1, domain(math.Acos, func(x float64) bool { return x >= -1 && x <= 1 })},
	"atan":      {1, 1, unary(math.Atan)},
	"log":       {1, 2, logarithm},
	"log10":     {1, 1, domain(math.Log10, func(x float64) bool { return x > 0 })},
	"exp":       {1, 1, unary(math.Exp)},
	"ceil":      {1, 1, unary(math.Ceil)},
	"floor":     {1, 1, unary(math.Floor)},
	"factorial": {1, 1, factorial},
}

// Names returns the functions and constants an expression may reference.
func Names() (funcs []string, consts []string) {
	for name := range functions {
		funcs = append(funcs, name)
	}
	for name := range constants {
		consts = append(consts, name)
	}
	return funcs, consts
}

func call(name string, args []float64) (float64, error) {
	f, ok := functions[name]
	if !ok {
		return 0, &NameError{Name: name}
	}
	if len(args) < f.minArgs || (f.maxArgs >= 0 && len(args) > f.maxArgs) {
		return 0, fmt.Errorf("%s() takes %s, got %d", name, arity(f), len(args))
	}
	return f.fn(args)
}

func arity(f function) string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("exactly %d argument(s)", f.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

func unary(fn func(float64) float64) func([]float64) (float64, error) {
	return func(a []float64) (float64, error) { return fn(a[0]), nil }
}

func domain(fn func(float64) float64, ok func(float64) bool) func([]float64) (float64, error) {
	return func(a []float64) (float64, error) {
		if !ok(a[0]) {
			return 0, &DomainError{Msg: "math domain error"}
		}
		return fn(a[0]), nil
	}
}

func extreme(better func(a, b float64) bool) func([]float64) (float64, error) {
	return func(a []float64) (float64, error) {
		v := a[0]
		for _, x := range a[1:] {
			if better(x, v) {
				v = x
			}
		}
		return v, nil
	}
}

func round(a []float64) (float64, error) {
	if len(a) == 1 {
		return math.RoundToEven(a[0]), nil
	}
	if a[1] != math.Trunc(a[1]) {
		return 0, &DomainError{Msg: "round() ndigits must be an integer"}
	}
	scale := math.Pow(10, a[1])
	return math.RoundToEven(a[0]*scale) / scale, nil
}

func logarithm(a []float64) (float64, error) {
	if a[0] <= 0 {
		return 0, &DomainError{Msg: "math domain error"}
	}
	if len(a) == 1 {
		return math.Log(a[0]), nil
	}
	if a[1] <= 0 || a[1] == 1 {
		return 0, &DomainError{Msg: "math domain error"}
	}
	return math.Log(a[0]) / math.Log(a[1]), nil
}

func factorial(a []float64) (float64, error) {
	n := a[0]
	if n != math.Trunc(n) {
		return 0, &DomainError{Msg: "factorial() only accepts integral values"}
	}
	if n < 0 {
		return 0, &DomainError{Msg: "factorial() not defined for negative values"}
	}
	v := 1.0
	for i := 2.0; i <= n; i++ {
		v *= i
		if math.IsInf(v, 0) {
			break
		}
	}
	return v, nil
}

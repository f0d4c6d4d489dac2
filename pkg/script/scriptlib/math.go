package scriptlib

import (
	"math"
	"math/rand"

	"gitlab.com/tinyland/lab/boot-pulse/pkg/script"
)

// NewMathLib installs the Math hash: trigonometry, rounding, and a
// pseudo-random source for star fields and throbbers.
func NewMathLib(vm *script.VM) {
	lib := script.NewHash()

	unary := func(name string, fn func(float64) float64) {
		script.AddNativeFunction(lib, name, nil, func(s *script.State, _ any) script.Return {
			return script.ReturnObj(script.NewFloat(fn(s.ArgFloat("value"))))
		}, "value")
	}
	unary("Sin", math.Sin)
	unary("Cos", math.Cos)
	unary("Tan", math.Tan)
	unary("Sqrt", math.Sqrt)

	script.AddNativeFunction(lib, "Int", nil, func(s *script.State, _ any) script.Return {
		return script.ReturnObj(script.NewInt(int64(s.ArgFloat("value"))))
	}, "value")
	script.AddNativeFunction(lib, "Min", nil, func(s *script.State, _ any) script.Return {
		return script.ReturnObj(script.NewNumber(math.Min(s.ArgFloat("a"), s.ArgFloat("b"))))
	}, "a", "b")
	script.AddNativeFunction(lib, "Max", nil, func(s *script.State, _ any) script.Return {
		return script.ReturnObj(script.NewNumber(math.Max(s.ArgFloat("a"), s.ArgFloat("b"))))
	}, "a", "b")
	script.AddNativeFunction(lib, "Random", nil, func(*script.State, any) script.Return {
		return script.ReturnObj(script.NewFloat(rand.Float64()))
	})

	pi := script.NewFloat(math.Pi)
	lib.HashSet("Pi", pi)
	pi.Unref()

	vm.GlobalSet("Math", lib)
	lib.Unref()
}

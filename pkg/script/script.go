package script

// NativeFunc is the host-side callback signature: it receives the call
// frame (arguments bound in the local scope, receiver in This) and the
// user data registered with the function.
type NativeFunc func(s *State, userData any) Return

// AddNativeFunction registers a native callable in hash under name with
// the given parameter names.
func AddNativeFunction(hash *Obj, name string, userData any, fn NativeFunc, params ...string) {
	wrapped := func(s *State) Return { return fn(s, userData) }
	obj := NewFunction(&Function{Params: params, Native: wrapped, UserData: userData})
	hash.HashSet(name, obj)
	obj.Unref()
}

// VM owns one script universe: the global scope plus the core builtins.
type VM struct {
	State *State
}

// NewVM creates a virtual machine. userData is handed to every native
// call frame.
func NewVM(userData any) *VM {
	s := NewState(userData)
	vm := &VM{State: s}
	vm.addCoreBuiltins()
	return vm
}

// addCoreBuiltins installs the language-level natives.
func (vm *VM) addCoreBuiltins() {
	// Weak(object) returns a reference that does not keep its target
	// alive. Scripts use it to point a child hash back at its owner
	// without creating a refcount cycle.
	AddNativeFunction(vm.State.Global, "Weak", nil,
		func(s *State, _ any) Return {
			target := s.Arg("object")
			if target == nil || target.IsNull() {
				return ReturnNullObj()
			}
			return ReturnObj(NewWeakRef(target.Deref()))
		}, "object")
}

// RunString parses and executes source in the VM's global scope.
func (vm *VM) RunString(name, source string) error {
	program, err := Parse(name, source)
	if err != nil {
		return err
	}
	ret := ExecOp(vm.State, program)
	if ret.Obj != nil {
		ret.Obj.Unref()
	}
	return nil
}

// Run executes a parsed program in the VM's global scope.
func (vm *VM) Run(program *Op) {
	ret := ExecOp(vm.State, program)
	if ret.Obj != nil {
		ret.Obj.Unref()
	}
}

// GlobalGet returns a borrowed reference to a global binding, or nil.
func (vm *VM) GlobalGet(name string) *Obj {
	return vm.State.Global.HashGet(name)
}

// GlobalSet binds value under name in the global scope.
func (vm *VM) GlobalSet(name string, value *Obj) {
	vm.State.Global.HashSet(name, value)
}

// Call invokes a callable object with the given arguments and returns an
// owned result.
func (vm *VM) Call(fnObj *Obj, args ...*Obj) *Obj {
	if fnObj == nil || fnObj.Function() == nil {
		return NewNull()
	}
	ret := CallFunction(vm.State, fnObj, nil, args)
	if ret.Obj == nil {
		return NewNull()
	}
	return ret.Obj
}

// Destroy releases the VM's scopes. Live object counts drop to whatever
// the host still holds.
func (vm *VM) Destroy() {
	vm.State.Destroy()
}

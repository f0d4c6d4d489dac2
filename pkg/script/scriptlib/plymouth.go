package scriptlib

import (
	"gitlab.com/tinyland/lab/boot-pulse/pkg/script"
)

// Hook names scripts can register through the Plymouth hash.
const (
	HookRefresh         = "refresh"
	HookBootProgress    = "boot_progress"
	HookRootMounted     = "root_mounted"
	HookUpdateStatus    = "update_status"
	HookDisplayNormal   = "display_normal"
	HookDisplayPassword = "display_password"
	HookDisplayQuestion = "display_question"
	HookMessage         = "message"
	HookQuit            = "quit"
)

// PlymouthLib is the lifecycle bridge between the orchestrator and a
// theme script: the script registers callables, the host fires them.
//
//	fun on_refresh() { ... }
//	Plymouth.SetRefreshFunction(on_refresh);
//	fun on_progress(duration, progress) { ... }
//	Plymouth.SetBootProgressFunction(on_progress);
//
// Callables are named functions passed by name; the parser does not
// accept anonymous function literals.
type PlymouthLib struct {
	vm    *script.VM
	mode  string
	hooks map[string]*script.Obj
}

// NewPlymouthLib installs the Plymouth hash. mode is what GetMode
// reports ("boot", "shutdown" or "updates").
func NewPlymouthLib(vm *script.VM, mode string) *PlymouthLib {
	lib := &PlymouthLib{vm: vm, mode: mode, hooks: make(map[string]*script.Obj)}

	hash := script.NewHash()
	setter := func(name, hook string) {
		script.AddNativeFunction(hash, name, nil, func(s *script.State, _ any) script.Return {
			lib.setHook(hook, s.Arg("function"))
			return script.ReturnNullObj()
		}, "function")
	}
	setter("SetRefreshFunction", HookRefresh)
	setter("SetBootProgressFunction", HookBootProgress)
	setter("SetRootMountedFunction", HookRootMounted)
	setter("SetUpdateStatusFunction", HookUpdateStatus)
	setter("SetDisplayNormalFunction", HookDisplayNormal)
	setter("SetDisplayPasswordFunction", HookDisplayPassword)
	setter("SetDisplayQuestionFunction", HookDisplayQuestion)
	setter("SetMessageFunction", HookMessage)
	setter("SetQuitFunction", HookQuit)

	script.AddNativeFunction(hash, "GetMode", nil, func(*script.State, any) script.Return {
		return script.ReturnObj(script.NewString(lib.mode))
	})

	vm.GlobalSet("Plymouth", hash)
	hash.Unref()
	return lib
}

func (lib *PlymouthLib) setHook(name string, fn *script.Obj) {
	if old, ok := lib.hooks[name]; ok {
		old.Unref()
		delete(lib.hooks, name)
	}
	if fn == nil || fn.IsNull() {
		return
	}
	lib.hooks[name] = fn.Deref().Ref()
}

// HasHook reports whether the script registered the named hook.
func (lib *PlymouthLib) HasHook(name string) bool {
	_, ok := lib.hooks[name]
	return ok
}

// Fire invokes a registered hook with the given arguments, consuming the
// argument references.
func (lib *PlymouthLib) Fire(name string, args ...*script.Obj) {
	fn, ok := lib.hooks[name]
	if ok {
		result := lib.vm.Call(fn, args...)
		result.Unref()
	}
	for _, a := range args {
		a.Unref()
	}
}

// Close drops every registered hook.
func (lib *PlymouthLib) Close() {
	for name, fn := range lib.hooks {
		fn.Unref()
		delete(lib.hooks, name)
	}
}

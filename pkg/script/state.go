package script

// State holds the binding scopes for one evaluation frame: the global
// hash, the current local hash, and the bound receiver for method calls.
// At the top level the local scope is the global hash itself.
type State struct {
	UserData any
	Global   *Obj
	Local    *Obj
	This     *Obj
}

// NewState creates a top-level state with a fresh global hash.
func NewState(userData any) *State {
	global := NewHash()
	return &State{
		UserData: userData,
		Global:   global,
		Local:    global.Ref(),
	}
}

// SubState creates a call frame: a fresh local hash over the same global.
// this may be nil.
func (s *State) SubState(this *Obj) *State {
	return &State{
		UserData: s.UserData,
		Global:   s.Global.Ref(),
		Local:    NewHash(),
		This:     this,
	}
}

// Destroy releases the state's scope references.
func (s *State) Destroy() {
	s.Local.Unref()
	s.Global.Unref()
	s.Local = nil
	s.Global = nil
}

// Arg returns the named parameter from the local scope, or nil.
func (s *State) Arg(name string) *Obj {
	return s.Local.HashGet(name)
}

// ArgString returns the named parameter coerced to a string.
func (s *State) ArgString(name string) string {
	return s.Local.HashGet(name).AsString()
}

// ArgFloat returns the named parameter coerced to a float.
func (s *State) ArgFloat(name string) float64 {
	return s.Local.HashGet(name).AsFloat()
}

// ArgInt returns the named parameter coerced to an integer.
func (s *State) ArgInt(name string) int64 {
	return s.Local.HashGet(name).AsInt()
}

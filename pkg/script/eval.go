package script

import "strconv"

// Return constructors used by native functions.

// ReturnObj wraps a value in a normal-return control value, taking
// ownership of obj.
func ReturnObj(obj *Obj) Return {
	if obj == nil {
		obj = NewNull()
	}
	return Return{Kind: ReturnReturn, Obj: obj}
}

// ReturnNullObj returns null to the caller.
func ReturnNullObj() Return { return Return{Kind: ReturnReturn, Obj: NewNull()} }

// ExecOp runs one statement tree in the given state.
func ExecOp(s *State, op *Op) Return {
	switch op.Kind {
	case OpExpression:
		v := EvalExp(s, op.Exp)
		v.Unref()
		return Return{Kind: ReturnNormal}

	case OpBlock:
		for _, sub := range op.Block {
			if ret := ExecOp(s, sub); ret.Kind != ReturnNormal {
				return ret
			}
		}
		return Return{Kind: ReturnNormal}

	case OpIf:
		cond := EvalExp(s, op.Cond)
		truthy := cond.AsBool()
		cond.Unref()
		if truthy {
			return ExecOp(s, op.Body)
		}
		if op.Else != nil {
			return ExecOp(s, op.Else)
		}
		return Return{Kind: ReturnNormal}

	case OpWhile:
		for {
			cond := EvalExp(s, op.Cond)
			truthy := cond.AsBool()
			cond.Unref()
			if !truthy {
				return Return{Kind: ReturnNormal}
			}
			ret := ExecOp(s, op.Body)
			switch ret.Kind {
			case ReturnBreak:
				return Return{Kind: ReturnNormal}
			case ReturnReturn:
				return ret
			}
		}

	case OpFor:
		if ret := ExecOp(s, op.Init); ret.Kind == ReturnReturn {
			return ret
		}
		for {
			cond := EvalExp(s, op.Cond)
			truthy := cond.AsBool()
			cond.Unref()
			if !truthy {
				return Return{Kind: ReturnNormal}
			}
			ret := ExecOp(s, op.Body)
			switch ret.Kind {
			case ReturnBreak:
				return Return{Kind: ReturnNormal}
			case ReturnReturn:
				return ret
			}
			if ret := ExecOp(s, op.Inc); ret.Kind == ReturnReturn {
				return ret
			}
		}

	case OpFuncDef:
		fn := NewFunction(&Function{Params: op.Params, Body: op.Fn})
		container, key := resolveVar(s, op.Name)
		container.HashSet(key, fn)
		fn.Unref()
		return Return{Kind: ReturnNormal}

	case OpReturn:
		if op.Exp == nil {
			return Return{Kind: ReturnReturn, Obj: NewNull()}
		}
		return Return{Kind: ReturnReturn, Obj: EvalExp(s, op.Exp)}

	case OpBreak:
		return Return{Kind: ReturnBreak}

	case OpContinue:
		return Return{Kind: ReturnContinue}
	}
	return Return{Kind: ReturnNormal}
}

// resolveVar finds the scope hash holding name: the local scope if the
// name exists there, then the global scope, defaulting to local for new
// bindings.
func resolveVar(s *State, name string) (*Obj, string) {
	if s.Local.HashGet(name) != nil {
		return s.Local, name
	}
	if s.Global.HashGet(name) != nil {
		return s.Global, name
	}
	return s.Local, name
}

// resolveLValue reduces an assignable expression to a container hash and
// key. Intermediate members and indexes upgrade to hashes as needed.
func resolveLValue(s *State, exp *Exp) (*Obj, string, bool) {
	switch exp.Kind {
	case ExpVar:
		container, key := resolveVar(s, exp.Str)
		return container, key, true
	case ExpAccess:
		container := evalForHash(s, exp.A)
		if container == nil {
			return nil, "", false
		}
		return container, exp.Str, true
	case ExpIndex:
		container := evalForHash(s, exp.A)
		if container == nil {
			return nil, "", false
		}
		idx := EvalExp(s, exp.B)
		key := idx.AsString()
		idx.Unref()
		return container, key, true
	default:
		return nil, "", false
	}
}

// evalForHash evaluates exp to a hash, upgrading an assignable non-hash
// slot to a fresh hash in place. Returns a borrowed reference.
func evalForHash(s *State, exp *Exp) *Obj {
	switch exp.Kind {
	case ExpGlobal:
		return s.Global
	case ExpLocal:
		return s.Local
	}

	container, key, ok := resolveLValue(s, exp)
	if !ok {
		v := EvalExp(s, exp)
		defer v.Unref()
		if d := v.Deref(); d != nil && d.Type() == TypeHash {
			return d
		}
		return nil
	}

	if current := container.HashGet(key); current != nil {
		if d := current.Deref(); d != nil && d.Type() == TypeHash {
			return d
		}
	}
	// Slot missing or not a hash: upgrade.
	fresh := NewHash()
	container.HashSet(key, fresh)
	fresh.Unref()
	return container.HashGet(key).Deref()
}

// EvalExp evaluates an expression and returns an owned reference the
// caller must Unref.
func EvalExp(s *State, exp *Exp) *Obj {
	switch exp.Kind {
	case ExpNull:
		return NewNull()
	case ExpInt:
		return NewInt(exp.Int)
	case ExpFloat:
		return NewFloat(exp.Fl)
	case ExpString:
		return NewString(exp.Str)
	case ExpGlobal:
		return s.Global.Ref()
	case ExpLocal:
		return s.Local.Ref()

	case ExpVar:
		if exp.Str == "this" && s.This != nil {
			return s.This.Ref()
		}
		if v := s.Local.HashGet(exp.Str); v != nil {
			return v.Ref()
		}
		if v := s.Global.HashGet(exp.Str); v != nil {
			return v.Ref()
		}
		return NewNull()

	case ExpAdd, ExpSub, ExpMul, ExpDiv, ExpMod:
		return evalArith(s, exp)

	case ExpEQ, ExpNE, ExpLT, ExpLE, ExpGT, ExpGE:
		return evalCompare(s, exp)

	case ExpAnd:
		a := EvalExp(s, exp.A)
		truthy := a.AsBool()
		a.Unref()
		if !truthy {
			return NewInt(0)
		}
		b := EvalExp(s, exp.B)
		result := b.AsBool()
		b.Unref()
		return boolObj(result)

	case ExpOr:
		a := EvalExp(s, exp.A)
		truthy := a.AsBool()
		a.Unref()
		if truthy {
			return NewInt(1)
		}
		b := EvalExp(s, exp.B)
		result := b.AsBool()
		b.Unref()
		return boolObj(result)

	case ExpNot:
		a := EvalExp(s, exp.A)
		result := !a.AsBool()
		a.Unref()
		return boolObj(result)

	case ExpPos:
		a := EvalExp(s, exp.A)
		defer a.Unref()
		return NewNumber(a.AsFloat())

	case ExpNeg:
		a := EvalExp(s, exp.A)
		defer a.Unref()
		if d := a.Deref(); d != nil && d.Type() == TypeInt {
			return NewInt(-d.integer)
		}
		return NewFloat(-a.AsFloat())

	case ExpPreInc, ExpPreDec, ExpPostInc, ExpPostDec:
		return evalIncDec(s, exp)

	case ExpAccess:
		return evalAccess(s, exp)

	case ExpIndex:
		base := EvalExp(s, exp.A)
		defer base.Unref()
		idx := EvalExp(s, exp.B)
		key := idx.AsString()
		idx.Unref()
		if d := base.Deref(); d != nil && d.Type() == TypeHash {
			if v := d.HashGet(key); v != nil {
				return v.Ref()
			}
		}
		return NewNull()

	case ExpList:
		list := NewHash()
		for i, element := range exp.Args {
			v := EvalExp(s, element)
			list.HashSet(strconv.Itoa(i), v)
			v.Unref()
		}
		return list

	case ExpCall:
		return evalCall(s, exp)

	case ExpAssign, ExpAssignAdd, ExpAssignSub, ExpAssignMul, ExpAssignDiv, ExpAssignMod:
		return evalAssign(s, exp)
	}
	return NewNull()
}

func boolObj(b bool) *Obj {
	if b {
		return NewInt(1)
	}
	return NewInt(0)
}

func evalArith(s *State, exp *Exp) *Obj {
	a := EvalExp(s, exp.A)
	b := EvalExp(s, exp.B)
	defer a.Unref()
	defer b.Unref()
	return arith(exp.Kind, a, b)
}

// arith applies a binary arithmetic operator, preserving integer-ness
// when both operands are integers and concatenating when either side of
// "+" is a string.
func arith(kind ExpKind, a, b *Obj) *Obj {
	da, db := a.Deref(), b.Deref()
	if kind == ExpAdd && (objIsString(da) || objIsString(db)) {
		return NewString(a.AsString() + b.AsString())
	}
	if da == nil || db == nil || !objIsNumeric(da) || !objIsNumeric(db) {
		return NewNull()
	}
	if da.typ == TypeInt && db.typ == TypeInt {
		x, y := da.integer, db.integer
		switch kind {
		case ExpAdd:
			return NewInt(x + y)
		case ExpSub:
			return NewInt(x - y)
		case ExpMul:
			return NewInt(x * y)
		case ExpDiv:
			if y == 0 {
				return NewNull()
			}
			return NewInt(x / y)
		case ExpMod:
			if y == 0 {
				return NewNull()
			}
			return NewInt(x % y)
		}
	}
	x, y := a.AsFloat(), b.AsFloat()
	switch kind {
	case ExpAdd:
		return NewFloat(x + y)
	case ExpSub:
		return NewFloat(x - y)
	case ExpMul:
		return NewFloat(x * y)
	case ExpDiv:
		if y == 0 {
			return NewNull()
		}
		return NewFloat(x / y)
	case ExpMod:
		if y == 0 {
			return NewNull()
		}
		return NewFloat(float64(int64(x) % int64(y)))
	}
	return NewNull()
}

func objIsString(o *Obj) bool  { return o != nil && o.typ == TypeString }
func objIsNumeric(o *Obj) bool { return o != nil && (o.typ == TypeInt || o.typ == TypeFloat) }

func evalCompare(s *State, exp *Exp) *Obj {
	a := EvalExp(s, exp.A)
	b := EvalExp(s, exp.B)
	defer a.Unref()
	defer b.Unref()
	da, db := a.Deref(), b.Deref()

	switch exp.Kind {
	case ExpEQ, ExpNE:
		equal := objEqual(da, db)
		if exp.Kind == ExpNE {
			equal = !equal
		}
		return boolObj(equal)
	}

	// Ordering: numeric when both numeric (cross-tag via float),
	// lexicographic for strings.
	var cmp int
	switch {
	case objIsNumeric(da) && objIsNumeric(db):
		x, y := a.AsFloat(), b.AsFloat()
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	case objIsString(da) && objIsString(db):
		switch {
		case da.str < db.str:
			cmp = -1
		case da.str > db.str:
			cmp = 1
		}
	default:
		return NewNull()
	}

	switch exp.Kind {
	case ExpLT:
		return boolObj(cmp < 0)
	case ExpLE:
		return boolObj(cmp <= 0)
	case ExpGT:
		return boolObj(cmp > 0)
	case ExpGE:
		return boolObj(cmp >= 0)
	}
	return NewNull()
}

// objEqual compares dereferenced values. Numeric tags coerce to float;
// everything else compares by value for scalars and identity for
// containers.
func objEqual(a, b *Obj) bool {
	if a == nil || b == nil {
		return a == b || (a == nil && b.typ == TypeNull) || (b == nil && a.typ == TypeNull)
	}
	if objIsNumeric(a) && objIsNumeric(b) {
		return a.AsFloat() == b.AsFloat()
	}
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case TypeNull:
		return true
	case TypeString:
		return a.str == b.str
	default:
		return a == b
	}
}

func evalIncDec(s *State, exp *Exp) *Obj {
	container, key, ok := resolveLValue(s, exp.A)
	if !ok {
		return NewNull()
	}
	old := container.HashGet(key)
	oldVal := old.AsFloat()
	wasInt := old != nil && old.Deref() != nil && old.Deref().typ == TypeInt

	delta := 1.0
	if exp.Kind == ExpPreDec || exp.Kind == ExpPostDec {
		delta = -1
	}
	var fresh *Obj
	if wasInt || old == nil || old.IsNull() {
		fresh = NewInt(int64(oldVal + delta))
	} else {
		fresh = NewFloat(oldVal + delta)
	}
	container.HashSet(key, fresh)

	if exp.Kind == ExpPostInc || exp.Kind == ExpPostDec {
		fresh.Unref()
		if wasInt {
			return NewInt(int64(oldVal))
		}
		return NewNumber(oldVal)
	}
	return fresh
}

// evalAccess reads a member: hash element, or a native class method
// (which is how non-hash objects resolve member lookups).
func evalAccess(s *State, exp *Exp) *Obj {
	base := EvalExp(s, exp.A)
	defer base.Unref()
	d := base.Deref()
	if d == nil {
		return NewNull()
	}
	switch d.Type() {
	case TypeHash:
		if v := d.HashGet(exp.Str); v != nil {
			return v.Ref()
		}
	case TypeNative:
		if d.class != nil {
			if m, ok := d.class.Methods[exp.Str]; ok {
				return m.Ref()
			}
		}
	}
	return NewNull()
}

func evalCall(s *State, exp *Exp) *Obj {
	// A member-access callee binds the base object as the receiver.
	var this *Obj
	var callee *Obj
	if exp.A.Kind == ExpAccess {
		base := EvalExp(s, exp.A.A)
		d := base.Deref()
		if d != nil {
			switch d.Type() {
			case TypeHash:
				if v := d.HashGet(exp.A.Str); v != nil {
					callee = v.Ref()
				}
			case TypeNative:
				if d.class != nil {
					if m, ok := d.class.Methods[exp.A.Str]; ok {
						callee = m.Ref()
						this = d
					}
				}
			}
			if callee != nil && d.Type() == TypeHash {
				this = d
			}
		}
		defer base.Unref()
		if callee == nil {
			return NewNull()
		}
	} else {
		callee = EvalExp(s, exp.A)
	}
	defer callee.Unref()

	args := make([]*Obj, len(exp.Args))
	for i, argExp := range exp.Args {
		args[i] = EvalExp(s, argExp)
	}
	ret := CallFunction(s, callee, this, args)
	for _, a := range args {
		a.Unref()
	}
	if ret.Obj == nil {
		return NewNull()
	}
	return ret.Obj
}

// CallFunction invokes a callable object with bound receiver and
// arguments. The result object is owned by the caller.
func CallFunction(s *State, fnObj *Obj, this *Obj, args []*Obj) Return {
	fn := fnObj.Function()
	if fn == nil {
		return Return{Kind: ReturnNormal, Obj: NewNull()}
	}

	sub := s.SubState(this)
	defer sub.Destroy()
	for i, name := range fn.Params {
		if i < len(args) {
			sub.Local.HashSet(name, args[i])
		} else {
			null := NewNull()
			sub.Local.HashSet(name, null)
			null.Unref()
		}
	}

	var ret Return
	if fn.Native != nil {
		ret = fn.Native(sub)
	} else if fn.Body != nil {
		ret = ExecOp(sub, fn.Body)
	}

	// Break/continue never escape a function body.
	if ret.Obj == nil {
		ret.Obj = NewNull()
	}
	return Return{Kind: ReturnNormal, Obj: ret.Obj}
}

func evalAssign(s *State, exp *Exp) *Obj {
	container, key, ok := resolveLValue(s, exp.A)
	if !ok {
		v := EvalExp(s, exp.B)
		v.Unref()
		return NewNull()
	}

	value := EvalExp(s, exp.B)
	if exp.Kind != ExpAssign {
		old := container.HashGet(key)
		var kind ExpKind
		switch exp.Kind {
		case ExpAssignAdd:
			kind = ExpAdd
		case ExpAssignSub:
			kind = ExpSub
		case ExpAssignMul:
			kind = ExpMul
		case ExpAssignDiv:
			kind = ExpDiv
		case ExpAssignMod:
			kind = ExpMod
		}
		oldRef := old.Ref()
		if oldRef == nil {
			oldRef = NewNull()
		}
		combined := arith(kind, oldRef, value)
		oldRef.Unref()
		value.Unref()
		value = combined
	}
	container.HashSet(key, value)
	return value
}

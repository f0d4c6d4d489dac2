package script

import (
	"fmt"
	"sort"
	"strconv"
)

// ObjType tags the dynamic object variant. An object's tag never mutates
// in place; rebinding a variable swaps the object, not the tag.
type ObjType int

const (
	TypeNull ObjType = iota
	TypeRef
	TypeInt
	TypeFloat
	TypeString
	TypeHash
	TypeFunction
	TypeNative
)

// NativeClass identifies a family of opaque host resources and owns their
// destructor.
type NativeClass struct {
	Name string
	// Free releases the host resource when the owning object's refcount
	// reaches zero. May be nil.
	Free func(data any)
	// Methods resolve member access on instances of this class.
	Methods map[string]*Obj
}

// Function is a callable: either a script body or a native callback.
type Function struct {
	Params   []string
	Body     *Op                       // script functions
	Native   func(state *State) Return // native functions
	UserData any                       // opaque host pointer for natives
}

// Return carries control flow out of an evaluation.
type ReturnKind int

const (
	ReturnNormal ReturnKind = iota
	ReturnReturn
	ReturnBreak
	ReturnContinue
)

// Return is the tagged control value propagated by the evaluator.
type Return struct {
	Kind ReturnKind
	Obj  *Obj
}

// liveObjects counts allocated-but-unfreed objects, for leak assertions.
var liveObjects int

// LiveObjects returns the current number of live script objects.
func LiveObjects() int { return liveObjects }

// Obj is one reference-counted dynamic value.
type Obj struct {
	typ      ObjType
	refcount int
	freed    bool

	integer    int64
	float      float64
	str        string
	ref        *Obj // TypeRef target; not counted when weak
	weak       bool
	hash       map[string]*Obj
	fn         *Function
	nativeData any
	class      *NativeClass
}

func newObj(typ ObjType) *Obj {
	liveObjects++
	return &Obj{typ: typ, refcount: 1}
}

// NewNull returns a fresh null object.
func NewNull() *Obj { return newObj(TypeNull) }

// NewInt returns a fresh integer object.
func NewInt(v int64) *Obj {
	o := newObj(TypeInt)
	o.integer = v
	return o
}

// NewFloat returns a fresh float object.
func NewFloat(v float64) *Obj {
	o := newObj(TypeFloat)
	o.float = v
	return o
}

// NewNumber returns an int object for integral values and a float object
// otherwise.
func NewNumber(v float64) *Obj {
	if v == float64(int64(v)) {
		return NewInt(int64(v))
	}
	return NewFloat(v)
}

// NewString returns a fresh string object.
func NewString(s string) *Obj {
	o := newObj(TypeString)
	o.str = s
	return o
}

// NewHash returns a fresh empty hash object.
func NewHash() *Obj {
	o := newObj(TypeHash)
	o.hash = make(map[string]*Obj)
	return o
}

// NewFunction wraps a Function value.
func NewFunction(fn *Function) *Obj {
	o := newObj(TypeFunction)
	o.fn = fn
	return o
}

// NewNative wraps a host resource in an object of the given class.
func NewNative(data any, class *NativeClass) *Obj {
	o := newObj(TypeNative)
	o.nativeData = data
	o.class = class
	return o
}

// NewRef returns a counted reference to target.
func NewRef(target *Obj) *Obj {
	o := newObj(TypeRef)
	o.ref = target.Ref()
	return o
}

// NewWeakRef returns a reference that does not keep target alive. Hash
// slots that point back at their owner are stored this way to break
// cycles.
func NewWeakRef(target *Obj) *Obj {
	o := newObj(TypeRef)
	o.ref = target
	o.weak = true
	return o
}

// Type returns the object's tag.
func (o *Obj) Type() ObjType { return o.typ }

// IsWeak reports whether the object is a weak reference.
func (o *Obj) IsWeak() bool { return o.typ == TypeRef && o.weak }

// Ref increments the reference count and returns o for chaining.
func (o *Obj) Ref() *Obj {
	if o == nil {
		return nil
	}
	if o.freed {
		panic("script: ref of freed object")
	}
	o.refcount++
	return o
}

// Unref decrements the reference count, freeing the object exactly when
// the count transitions from 1 to 0.
func (o *Obj) Unref() {
	if o == nil {
		return
	}
	if o.freed {
		panic("script: unref of freed object")
	}
	o.refcount--
	if o.refcount > 0 {
		return
	}
	o.freed = true
	liveObjects--
	switch o.typ {
	case TypeRef:
		if !o.weak {
			o.ref.Unref()
		}
	case TypeHash:
		for key, v := range o.hash {
			delete(o.hash, key)
			v.Unref()
		}
	case TypeNative:
		if o.class != nil && o.class.Free != nil {
			o.class.Free(o.nativeData)
		}
	}
}

// Deref follows reference objects to the underlying value. A weak
// reference whose target has been freed dereferences to nil.
func (o *Obj) Deref() *Obj {
	for o != nil && o.typ == TypeRef {
		if o.weak && o.ref != nil && o.ref.freed {
			return nil
		}
		o = o.ref
	}
	return o
}

// ---------------------------------------------------------------------------
// Hash access
// ---------------------------------------------------------------------------

// HashGet returns the element for key, or nil. The returned reference is
// borrowed.
func (o *Obj) HashGet(key string) *Obj {
	if o == nil || o.typ != TypeHash {
		return nil
	}
	return o.hash[key]
}

// HashSet stores value under key, taking its own reference. A value that
// is the hash itself is stored as a weak reference so a container can
// never keep itself alive.
func (o *Obj) HashSet(key string, value *Obj) {
	if o == nil || o.typ != TypeHash {
		return
	}
	if old, ok := o.hash[key]; ok {
		old.Unref()
	}
	if value == nil {
		value = NewNull()
	} else if value.Deref() == o {
		value = NewWeakRef(o)
	} else {
		value = value.Ref()
	}
	o.hash[key] = value
}

// HashKeys returns the hash's keys in sorted order.
func (o *Obj) HashKeys() []string {
	if o == nil || o.typ != TypeHash {
		return nil
	}
	keys := make([]string, 0, len(o.hash))
	for k := range o.hash {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HashLen returns the number of elements.
func (o *Obj) HashLen() int {
	if o == nil || o.typ != TypeHash {
		return 0
	}
	return len(o.hash)
}

// ---------------------------------------------------------------------------
// Value accessors
// ---------------------------------------------------------------------------

// AsInt coerces the (dereferenced) object to an integer.
func (o *Obj) AsInt() int64 {
	o = o.Deref()
	if o == nil {
		return 0
	}
	switch o.typ {
	case TypeInt:
		return o.integer
	case TypeFloat:
		return int64(o.float)
	case TypeString:
		n, _ := strconv.ParseInt(o.str, 10, 64)
		return n
	default:
		return 0
	}
}

// AsFloat coerces the (dereferenced) object to a float.
func (o *Obj) AsFloat() float64 {
	o = o.Deref()
	if o == nil {
		return 0
	}
	switch o.typ {
	case TypeInt:
		return float64(o.integer)
	case TypeFloat:
		return o.float
	case TypeString:
		f, _ := strconv.ParseFloat(o.str, 64)
		return f
	default:
		return 0
	}
}

// AsString renders the (dereferenced) object as a string.
func (o *Obj) AsString() string {
	o = o.Deref()
	if o == nil {
		return ""
	}
	switch o.typ {
	case TypeNull:
		return ""
	case TypeInt:
		return strconv.FormatInt(o.integer, 10)
	case TypeFloat:
		return strconv.FormatFloat(o.float, 'g', -1, 64)
	case TypeString:
		return o.str
	case TypeHash:
		return fmt.Sprintf("(hash:%d)", len(o.hash))
	case TypeFunction:
		return "(function)"
	case TypeNative:
		if o.class != nil {
			return fmt.Sprintf("(%s)", o.class.Name)
		}
		return "(native)"
	default:
		return ""
	}
}

// AsBool reports the object's truthiness.
func (o *Obj) AsBool() bool {
	o = o.Deref()
	if o == nil {
		return false
	}
	switch o.typ {
	case TypeNull:
		return false
	case TypeInt:
		return o.integer != 0
	case TypeFloat:
		return o.float != 0
	case TypeString:
		return o.str != ""
	default:
		return true
	}
}

// NativeData returns the host resource when the object belongs to class,
// else nil.
func (o *Obj) NativeData(class *NativeClass) any {
	o = o.Deref()
	if o == nil || o.typ != TypeNative || o.class != class {
		return nil
	}
	return o.nativeData
}

// IsNull reports whether the dereferenced object is null (or a dangling
// weak reference).
func (o *Obj) IsNull() bool {
	o = o.Deref()
	return o == nil || o.typ == TypeNull
}

// Function returns the callable, or nil when the object is not one.
func (o *Obj) Function() *Function {
	o = o.Deref()
	if o == nil || o.typ != TypeFunction {
		return nil
	}
	return o.fn
}

package classfile

// Event is one structural fact decoded from a class file. The concrete types
// are ClassHeader, MethodDef, CallInsn, OuterClass and InnerClass.
type Event interface {
	event()
}

// ClassHeader opens a class file's event stream.
type ClassHeader struct {
	Name       string
	SuperName  string
	Interfaces []string
}

// MethodDef declares a method of the current class. The CallInsn events that
// follow it, up to the next MethodDef, belong to its body.
type MethodDef struct {
	Name string
	Desc string
}

// CallInsn is one method call instruction in the current method's body.
type CallInsn struct {
	Opcode byte
	Owner  string
	Name   string
	Desc   string
}

// OuterClass names the class enclosing the current (local or anonymous) class.
type OuterClass struct {
	Name string
}

// InnerClass is an InnerClasses attribute entry. OuterName and InnerName are
// empty for local and anonymous classes.
type InnerClass struct {
	Name      string
	OuterName string
	InnerName string
}

func (ClassHeader) event() {}
func (MethodDef) event()   {}
func (CallInsn) event()    {}
func (OuterClass) event()  {}
func (InnerClass) event()  {}

// Events returns the class's structural events in stream order: the header,
// the enclosing class if any, inner class entries, then each method followed
// by its call sites.
func (cf *ClassFile) Events() []Event {
	events := []Event{ClassHeader{Name: cf.Name, SuperName: cf.SuperName, Interfaces: cf.Interfaces}}
	if cf.EnclosingClass != "" {
		events = append(events, OuterClass{Name: cf.EnclosingClass})
	}
	for _, ic := range cf.InnerClasses {
		events = append(events, ic)
	}
	for _, m := range cf.Methods {
		events = append(events, MethodDef{Name: m.Name, Desc: m.Desc})
		for _, c := range m.Calls {
			events = append(events, c)
		}
	}
	return events
}

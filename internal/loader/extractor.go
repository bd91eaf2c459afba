// Package loader turns the structural events of decoded class files into
// deduplicated graph nodes and edges, one transaction per event.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/imyousuf/codegraph/internal/classfile"
	"github.com/imyousuf/codegraph/internal/graph"
)

// ErrOutOfOrder is returned for an event whose enclosing class or method
// has not been established by an earlier event.
var ErrOutOfOrder = errors.New("event out of order")

// Scope is the state threaded from one event to the next: the archive being
// loaded, the class whose file is being read, and the method whose body the
// following call instructions belong to.
type Scope struct {
	Archive *graph.Node
	Class   *graph.Node
	Method  *graph.Node
}

// Counts tallies the events an Extractor applied.
type Counts struct {
	Classes int
	Methods int
	Calls   int
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Classes += other.Classes
	c.Methods += other.Methods
	c.Calls += other.Calls
}

// Extractor applies structural events to the graph.
type Extractor struct {
	mut     *Mutator
	verbose bool
	log     func(format string, args ...any)
}

// ExtractorConfig holds configuration for an Extractor.
type ExtractorConfig struct {
	Mutator *Mutator
	Verbose bool
	Logger  func(format string, args ...any) // optional, defaults to stderr
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	logFn := cfg.Logger
	if logFn == nil {
		logFn = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	return &Extractor{mut: cfg.Mutator, verbose: cfg.Verbose, log: logFn}
}

// Extract applies one class file's events in order, starting from a scope
// holding only the archive node. It stops at the first failing event.
func (x *Extractor) Extract(ctx context.Context, archive *graph.Node, events []classfile.Event) (Counts, error) {
	var counts Counts
	sc := Scope{Archive: archive}
	for _, ev := range events {
		var err error
		if sc, err = x.Apply(ctx, sc, ev); err != nil {
			return counts, err
		}
		switch ev.(type) {
		case classfile.ClassHeader:
			counts.Classes++
		case classfile.MethodDef:
			counts.Methods++
		case classfile.CallInsn:
			counts.Calls++
		}
	}
	return counts, nil
}

// Apply handles a single event and returns the scope for the next one.
func (x *Extractor) Apply(ctx context.Context, sc Scope, ev classfile.Event) (Scope, error) {
	switch ev := ev.(type) {
	case classfile.ClassHeader:
		return x.classHeader(ctx, sc, ev)
	case classfile.MethodDef:
		return x.methodDef(ctx, sc, ev)
	case classfile.CallInsn:
		return sc, x.callInsn(ctx, sc, ev)
	case classfile.OuterClass:
		return sc, x.outerClass(ctx, sc, ev)
	case classfile.InnerClass:
		// Nesting is recorded from the inner class's own OuterClass event.
		return sc, nil
	default:
		return sc, fmt.Errorf("unknown event %T", ev)
	}
}

func (x *Extractor) classHeader(ctx context.Context, sc Scope, ev classfile.ClassHeader) (Scope, error) {
	if sc.Archive == nil {
		return sc, fmt.Errorf("%w: class %s outside an archive", ErrOutOfOrder, ev.Name)
	}
	if x.verbose {
		x.log("  class %s", ev.Name)
	}
	var self *graph.Node
	err := x.mut.Unit(ctx, "class "+ev.Name, func(u *Unit) error {
		var err error
		if self, err = u.Class(ev.Name); err != nil {
			return err
		}
		super, err := u.Class(ev.SuperName)
		if err != nil {
			return err
		}
		if err := u.Link(self, graph.EdgeExtends, super); err != nil {
			return err
		}
		for _, name := range ev.Interfaces {
			iface, err := u.Class(name)
			if err != nil {
				return err
			}
			if err := u.Link(self, graph.EdgeImplements, iface); err != nil {
				return err
			}
		}
		return u.Link(sc.Archive, graph.EdgeContains, self)
	})
	if err != nil {
		return sc, err
	}
	return Scope{Archive: sc.Archive, Class: self}, nil
}

func (x *Extractor) methodDef(ctx context.Context, sc Scope, ev classfile.MethodDef) (Scope, error) {
	if sc.Class == nil {
		return sc, fmt.Errorf("%w: method %s%s before class header", ErrOutOfOrder, ev.Name, ev.Desc)
	}
	var method *graph.Node
	err := x.mut.Unit(ctx, "method "+sc.Class.Name+"."+ev.Name+ev.Desc, func(u *Unit) error {
		var err error
		if method, err = u.Method(ev.Name, ev.Desc, sc.Class.Name); err != nil {
			return err
		}
		return u.Link(sc.Class, graph.EdgeContains, method)
	})
	if err != nil {
		return sc, err
	}
	sc.Method = method
	return sc, nil
}

// callInsn records one call site. Each call site is its own unit, so a
// failure loses at most that edge's transaction.
func (x *Extractor) callInsn(ctx context.Context, sc Scope, ev classfile.CallInsn) error {
	if sc.Method == nil {
		return fmt.Errorf("%w: call to %s.%s outside a method body", ErrOutOfOrder, ev.Owner, ev.Name)
	}
	return x.mut.Unit(ctx, "call "+ev.Owner+"."+ev.Name+ev.Desc, func(u *Unit) error {
		callee, err := u.Method(ev.Name, ev.Desc, ev.Owner)
		if err != nil {
			return err
		}
		return u.Link(sc.Method, graph.EdgeCalls, callee)
	})
}

func (x *Extractor) outerClass(ctx context.Context, sc Scope, ev classfile.OuterClass) error {
	if sc.Class == nil {
		return fmt.Errorf("%w: outer class %s before class header", ErrOutOfOrder, ev.Name)
	}
	return x.mut.Unit(ctx, "outer "+ev.Name, func(u *Unit) error {
		outer, err := u.Class(ev.Name)
		if err != nil {
			return err
		}
		return u.Link(outer, graph.EdgeContains, sc.Class)
	})
}

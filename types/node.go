// Package types contains shared types used across the harness
package types

import (
	"context"
	"errors"
	"fmt"
)

// Mode determines how the immediate children of a group are scheduled
type Mode string

// String implements the Stringer interface for Mode
func (m Mode) String() string {
	return string(m)
}

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// IsValid reports whether m is a known mode. The empty mode is valid and
// means sequential.
func (m Mode) IsValid() bool {
	switch m {
	case "", ModeSequential, ModeParallel:
		return true
	}
	return false
}

// Normalize returns the effective mode, mapping the empty mode to sequential.
func (m Mode) Normalize() Mode {
	if m == "" {
		return ModeSequential
	}
	return m
}

// NodeKind distinguishes groups from runnable units
type NodeKind string

const (
	NodeKindGroup NodeKind = "group"
	NodeKindUnit  NodeKind = "unit"
)

// UnitFunc is the body of a runnable unit. Returning nil passes the unit,
// returning an error wrapping ErrSkipped skips it and any other error fails it.
type UnitFunc func(ctx context.Context) error

// Node is a single node of the execution tree: either a group of ordered
// children tagged with a Mode, or a unit carrying a UnitFunc.
//
// A tree is built once before a run and must not be mutated while the
// scheduler is executing it.
type Node struct {
	Name     string
	Mode     Mode
	FailFast bool // Sequential groups only: skip remaining siblings after a failure
	Children []*Node
	Unit     UnitFunc
}

// NewGroup creates a group node with the given mode and children.
func NewGroup(name string, mode Mode, children ...*Node) *Node {
	return &Node{
		Name:     name,
		Mode:     mode,
		Children: children,
	}
}

// NewSequential creates a sequential group.
func NewSequential(name string, children ...*Node) *Node {
	return NewGroup(name, ModeSequential, children...)
}

// NewParallel creates a parallel group.
func NewParallel(name string, children ...*Node) *Node {
	return NewGroup(name, ModeParallel, children...)
}

// NewUnit creates a unit node.
func NewUnit(name string, fn UnitFunc) *Node {
	return &Node{
		Name: name,
		Unit: fn,
	}
}

// IsUnit reports whether n is a runnable unit.
func (n *Node) IsUnit() bool {
	return n.Unit != nil
}

// Kind returns the node kind.
func (n *Node) Kind() NodeKind {
	if n.IsUnit() {
		return NodeKindUnit
	}
	return NodeKindGroup
}

// CountUnits returns the number of units in the subtree rooted at n.
func (n *Node) CountUnits() int {
	if n.IsUnit() {
		return 1
	}
	total := 0
	for _, child := range n.Children {
		total += child.CountUnits()
	}
	return total
}

// Validate checks the structural invariants of the tree rooted at n.
func (n *Node) Validate() error {
	if n == nil {
		return errors.New("execution tree is nil")
	}
	return n.validate(make(map[*Node]bool), n.Name)
}

func (n *Node) validate(seen map[*Node]bool, path string) error {
	if seen[n] {
		return fmt.Errorf("node %q is reachable more than once", path)
	}
	seen[n] = true

	if n.Name == "" {
		return fmt.Errorf("node under %q has no name", path)
	}
	if n.IsUnit() {
		if len(n.Children) > 0 {
			return fmt.Errorf("unit %q cannot have children", path)
		}
		return nil
	}
	if !n.Mode.IsValid() {
		return fmt.Errorf("group %q has invalid mode %q", path, n.Mode)
	}
	if len(n.Children) == 0 {
		return fmt.Errorf("group %q has no children", path)
	}
	for i, child := range n.Children {
		if child == nil {
			return fmt.Errorf("group %q has nil child at index %d", path, i)
		}
		if err := child.validate(seen, path+"/"+child.Name); err != nil {
			return err
		}
	}
	return nil
}

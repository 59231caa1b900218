package hooks

import (
	"context"
	"errors"
	"fmt"
)

// HookFunc is a single hook operation. Returning an error (or panicking)
// never affects the intercepted action; the pipeline logs and contains it.
type HookFunc func(ctx context.Context, call *Call) error

// OperationNode is one link of a Chain.
type OperationNode struct {
	Operation HookFunc
	Name      string
	next      *OperationNode
}

// Next returns the following node, or nil at the tail.
func (n *OperationNode) Next() *OperationNode { return n.next }

// Chain is a tail-appended singly linked list of hook operations.
// The zero value is an empty chain.
type Chain struct {
	head *OperationNode
	tail *OperationNode
	size int
}

// Append adds op at the tail and returns its node.
func (c *Chain) Append(name string, op HookFunc) *OperationNode {
	n := &OperationNode{Operation: op, Name: name}
	if c.tail == nil {
		c.head = n
	} else {
		c.tail.next = n
	}
	c.tail = n
	c.size++
	return n
}

// Head returns the first node, or nil when the chain is empty.
func (c *Chain) Head() *OperationNode { return c.head }

// Len is the number of nodes, including ones without an operation.
func (c *Chain) Len() int { return c.size }

// Run invokes every node in append order. Nodes without an operation are
// skipped. A failing node does not stop the nodes after it; all failures
// are joined into the returned error.
func (c *Chain) Run(ctx context.Context, call *Call) error {
	var errs []error
	for n := c.head; n != nil; n = n.next {
		if n.Operation == nil {
			continue
		}
		if err := n.invoke(ctx, call); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (n *OperationNode) invoke(ctx context.Context, call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return n.Operation(ctx, call)
}

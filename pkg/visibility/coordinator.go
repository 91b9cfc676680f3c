// Package visibility decides which of several mounted research panels renders.
//
// A Coordinator holds a single slot. The first panel to evaluate while the slot
// is empty claims it; every other panel stays hidden until the holder unmounts
// and one of them evaluates again. There is no queue and no fairness: whoever
// evaluates first after a release wins.
package visibility

import (
	"sync"

	"github.com/google/uuid"
)

// Coordinator is the shared slot. Create one per group of panels that must not
// render together and hand it to each of them.
type Coordinator struct {
	mu     sync.Mutex
	holder string
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Holder returns the id currently allowed to render, or "" when the slot is empty
func (c *Coordinator) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder
}

// Mount registers a new panel instance and evaluates it once
func (c *Coordinator) Mount() *Instance {
	inst := &Instance{
		id:    "deep-research-" + uuid.NewString(),
		coord: c,
	}
	inst.Evaluate()
	return inst
}

// Instance is one mounted panel
type Instance struct {
	id    string
	coord *Coordinator

	mu      sync.Mutex
	visible bool
}

func (i *Instance) ID() string { return i.id }

// Visible returns the result of the last evaluation
func (i *Instance) Visible() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible
}

// Evaluate claims the slot if it is empty and reports whether this instance
// holds it.
func (i *Instance) Evaluate() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	c := i.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.holder {
	case "":
		c.holder = i.id
		i.visible = true
	case i.id:
		i.visible = true
	default:
		i.visible = false
	}
	return i.visible
}

// MakeVisible takes the slot regardless of who holds it. The previous holder
// finds out on its next evaluation.
func (i *Instance) MakeVisible() {
	i.mu.Lock()
	defer i.mu.Unlock()

	c := i.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	c.holder = i.id
	i.visible = true
}

// Unmount releases the slot if this instance holds it
func (i *Instance) Unmount() {
	i.mu.Lock()
	defer i.mu.Unlock()

	c := i.coord
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holder == i.id {
		c.holder = ""
	}
	i.visible = false
}

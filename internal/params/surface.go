// SPDX-License-Identifier: MIT
package params

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Names of the cells every control surface must declare.
const (
	MasterGain   = "masterGain"
	MasterPan    = "masterPan"
	Attack       = "attack"
	Release      = "release"
	SustainLevel = "sustainLevel"
	LFOPanSpeed  = "lfoPanSpeed"
	LFOPanDepth  = "lfoPanDepth"
)

// Cell is one atomically readable control value with a declared range.
// Min and Max are fixed at construction.
type Cell struct {
	name     string
	min, max float32
	bits     atomic.Uint32
}

// NewCell creates a cell holding def, clamped to [min, max].
func NewCell(name string, min, max, def float32) *Cell {
	c := &Cell{name: name, min: min, max: max}
	c.Store(def)
	return c
}

// Name returns the cell identifier.
func (c *Cell) Name() string { return c.name }

// Range returns the declared range.
func (c *Cell) Range() (min, max float32) { return c.min, c.max }

// Load atomically reads the current value.
func (c *Cell) Load() float32 {
	return math.Float32frombits(c.bits.Load())
}

// Store atomically writes v clamped to the declared range. NaN is ignored.
func (c *Cell) Store(v float32) {
	if v != v {
		return
	}
	c.bits.Store(math.Float32bits(clamp(v, c.min, c.max)))
}

// ControlSurface resolves named cells. A surface returns nil for names it does
// not declare.
type ControlSurface interface {
	Cell(name string) *Cell
}

// CellSpec declares one cell of a Surface.
type CellSpec struct {
	Name          string
	Min, Max, Def float32
}

// DefaultCells is the cell set of the instrument's control surface.
var DefaultCells = []CellSpec{
	{MasterGain, 0, 1, 0.8},
	{MasterPan, -64, 63, 0},
	{Attack, 0, 1, 0.05},
	{Release, 0, 1, 0.3},
	{SustainLevel, 0, 1, 0.8},
	{LFOPanSpeed, 0, 1, 0},
	{LFOPanDepth, 0, 1, 0},
}

// Surface is a fixed, map-backed control surface. The set of cells never
// changes after construction, so lookups need no lock.
type Surface struct {
	cells map[string]*Cell
	order []string
}

var _ ControlSurface = (*Surface)(nil)

// NewSurface creates a surface declaring the given cells, or DefaultCells if
// none are passed.
func NewSurface(specs ...CellSpec) *Surface {
	if len(specs) == 0 {
		specs = DefaultCells
	}
	s := &Surface{cells: make(map[string]*Cell, len(specs))}
	for _, spec := range specs {
		s.cells[spec.Name] = NewCell(spec.Name, spec.Min, spec.Max, spec.Def)
		s.order = append(s.order, spec.Name)
	}
	return s
}

// Cell implements ControlSurface.
func (s *Surface) Cell(name string) *Cell {
	return s.cells[name]
}

// Set stores a value in the named cell.
func (s *Surface) Set(name string, v float32) error {
	c := s.cells[name]
	if c == nil {
		return fmt.Errorf("unknown parameter %q", name)
	}
	c.Store(v)
	return nil
}

// Get returns the current value of the named cell.
func (s *Surface) Get(name string) (float32, bool) {
	c := s.cells[name]
	if c == nil {
		return 0, false
	}
	return c.Load(), true
}

// Names returns the declared cell names in declaration order.
func (s *Surface) Names() []string {
	return append([]string(nil), s.order...)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package fake

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/armcd/motionworker/engine"
)

// CollisionDetector records shapes and test pairs. It reports contact only through Contact.
type CollisionDetector struct {
	mu        sync.Mutex
	numJoints int
	closed    bool

	shapes     map[int][][]r3.Vector
	testPairs  []engine.ShapePair
	lastJoints []float64
	fkCalls    int

	// Contact returns the pairs in contact at `joints`. Only registered test pairs are reported.
	Contact func(joints []float64) []engine.ShapePair
}

// NewCollisionDetector returns a detector for `numJoints` joints, which has numJoints+2 shapes.
func NewCollisionDetector(numJoints int) *CollisionDetector {
	return &CollisionDetector{numJoints: numJoints, shapes: map[int][][]r3.Vector{}}
}

// CalcFK implements engine.CollisionDetector.
func (d *CollisionDetector) CalcFK(joints []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if len(joints) != d.numJoints {
		return errors.Errorf("expected %d joints, got %d", d.numJoints, len(joints))
	}
	d.lastJoints = append(d.lastJoints[:0], joints...)
	d.fkCalls++
	return nil
}

// TestCollisionPairs implements engine.CollisionDetector.
func (d *CollisionDetector) TestCollisionPairs() ([]engine.ShapePair, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.Contact == nil || d.lastJoints == nil {
		return nil, nil
	}
	registered := make(map[engine.ShapePair]bool, len(d.testPairs))
	for _, pair := range d.testPairs {
		registered[pair] = true
	}
	var hits []engine.ShapePair
	for _, pair := range d.Contact(append([]float64(nil), d.lastJoints...)) {
		if registered[pair] || registered[engine.ShapePair{A: pair.B, B: pair.A}] {
			hits = append(hits, pair)
		}
	}
	return hits, nil
}

// AddLinkShape implements engine.CollisionDetector.
func (d *CollisionDetector) AddLinkShape(link int, hulls [][]r3.Vector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if link < 0 || link >= d.numJoints+2 {
		return errors.Errorf("link %d out of range", link)
	}
	d.shapes[link] = hulls
	return nil
}

// ClearTestPairs implements engine.CollisionDetector.
func (d *CollisionDetector) ClearTestPairs() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.testPairs = nil
	return nil
}

// AddTestPair implements engine.CollisionDetector.
func (d *CollisionDetector) AddTestPair(a, b int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.shapes[a]; !ok {
		return errors.Errorf("no shape for link %d", a)
	}
	if _, ok := d.shapes[b]; !ok {
		return errors.Errorf("no shape for link %d", b)
	}
	d.testPairs = append(d.testPairs, engine.ShapePair{A: a, B: b})
	return nil
}

// TestPairs returns the registered pairs.
func (d *CollisionDetector) TestPairs() []engine.ShapePair {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]engine.ShapePair(nil), d.testPairs...)
}

// NumShapes returns the number of links with a shape.
func (d *CollisionDetector) NumShapes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shapes)
}

// FKCalls returns how many times CalcFK succeeded.
func (d *CollisionDetector) FKCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fkCalls
}

// Close implements engine.CollisionDetector.
func (d *CollisionDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("fake collision detector closed twice")
	}
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *CollisionDetector) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

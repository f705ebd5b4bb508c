package inject

import (
	"github.com/golang/geo/r3"

	"github.com/armcd/motionworker/engine"
)

// CollisionDetector is an injected collision detector.
type CollisionDetector struct {
	engine.CollisionDetector
	CalcFKFunc             func(joints []float64) error
	TestCollisionPairsFunc func() ([]engine.ShapePair, error)
	AddLinkShapeFunc       func(link int, hulls [][]r3.Vector) error
	AddTestPairFunc        func(a, b int) error
	CloseFunc              func() error
}

// CalcFK calls the injected CalcFK or the real version.
func (d *CollisionDetector) CalcFK(joints []float64) error {
	if d.CalcFKFunc == nil {
		return d.CollisionDetector.CalcFK(joints)
	}
	return d.CalcFKFunc(joints)
}

// TestCollisionPairs calls the injected TestCollisionPairs or the real version.
func (d *CollisionDetector) TestCollisionPairs() ([]engine.ShapePair, error) {
	if d.TestCollisionPairsFunc == nil {
		return d.CollisionDetector.TestCollisionPairs()
	}
	return d.TestCollisionPairsFunc()
}

// AddLinkShape calls the injected AddLinkShape or the real version.
func (d *CollisionDetector) AddLinkShape(link int, hulls [][]r3.Vector) error {
	if d.AddLinkShapeFunc == nil {
		return d.CollisionDetector.AddLinkShape(link, hulls)
	}
	return d.AddLinkShapeFunc(link, hulls)
}

// AddTestPair calls the injected AddTestPair or the real version.
func (d *CollisionDetector) AddTestPair(a, b int) error {
	if d.AddTestPairFunc == nil {
		return d.CollisionDetector.AddTestPair(a, b)
	}
	return d.AddTestPairFunc(a, b)
}

// Close calls the injected Close or the real version.
func (d *CollisionDetector) Close() error {
	if d.CloseFunc == nil {
		if d.CollisionDetector == nil {
			return nil
		}
		return d.CollisionDetector.Close()
	}
	return d.CloseFunc()
}

package modelgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/armcd/motionworker/logging"
)

var (
	// ErrNoRevoluteJoints is returned for descriptions without any actuated joint.
	ErrNoRevoluteJoints = errors.New("model has no revolute joints")
	// ErrShapeCount is returned when the link shapes do not cover the base, every joint and the end
	// effector.
	ErrShapeCount = errors.New("link shape count must be the number of joints plus two")
)

// DefaultTestPairs are the shape pairs checked for contact when no test pair source is given. They
// pair every link with the links at least two further along a six joint arm, so adjacent links
// which always touch are skipped.
var DefaultTestPairs = [][2]int{
	{0, 2}, {0, 3}, {0, 4}, {0, 5}, {0, 6}, {0, 7},
	{1, 3}, {1, 4}, {1, 5}, {1, 6}, {1, 7},
	{2, 4}, {2, 5}, {2, 6}, {2, 7},
	{3, 5}, {3, 6}, {3, 7},
}

// Model is the engine-ready view of a description: revolute joints only, parent before child,
// with limits in the same order.
type Model struct {
	Joints []Joint
	Lower  []float64
	Upper  []float64
}

// NumJoints returns the number of actuated joints.
func (m *Model) NumJoints() int {
	return len(m.Joints)
}

// Loader fetches and assembles descriptions.
type Loader struct {
	fetcher Fetcher
	logger  logging.Logger
}

// NewLoader returns a Loader reading through `fetcher`.
func NewLoader(fetcher Fetcher, logger logging.Logger) *Loader {
	return &Loader{fetcher: fetcher, logger: logger}
}

// LoadJoints fetches a description and an optional override patch and returns every joint in
// parent-before-child order. An empty patch source skips the patch.
func (l *Loader) LoadJoints(ctx context.Context, modelSource, patchSource string) ([]Joint, error) {
	description, err := l.fetcher.Fetch(ctx, modelSource)
	if err != nil {
		return nil, errors.Wrap(err, "loading model")
	}
	var patch []byte
	if patchSource != "" {
		if patch, err = l.fetcher.Fetch(ctx, patchSource); err != nil {
			return nil, errors.Wrap(err, "loading model override")
		}
	}
	return ParseJoints(description, patch, l.logger)
}

// LoadModel is LoadJoints reduced to the actuated joints.
func (l *Loader) LoadModel(ctx context.Context, modelSource, patchSource string) (*Model, error) {
	joints, err := l.LoadJoints(ctx, modelSource, patchSource)
	if err != nil {
		return nil, err
	}
	return NewModel(joints)
}

// NewModel keeps the revolute joints of an ordered joint list.
func NewModel(joints []Joint) (*Model, error) {
	model := &Model{}
	for _, joint := range joints {
		if !joint.Revolute() {
			continue
		}
		model.Joints = append(model.Joints, joint)
		model.Lower = append(model.Lower, joint.Lower)
		model.Upper = append(model.Upper, joint.Upper)
	}
	if len(model.Joints) == 0 {
		return nil, ErrNoRevoluteJoints
	}
	return model, nil
}

// ParseJoints decodes a description, applies `patch` when non-empty and orders the joints. An
// array description is taken to be ordered already and is patched by index ("0", "1", ...).
func ParseJoints(description, patch []byte, logger logging.Logger) ([]Joint, error) {
	base, keys, presorted, err := decodeDescription(description)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(patch)) != 0 {
		var overrides map[string]interface{}
		if err := json.Unmarshal(patch, &overrides); err != nil {
			return nil, errors.Wrap(err, "model override must be a JSON object")
		}
		base = MergeOverrides(base, overrides, logger)
	}

	joints := make([]Joint, 0, len(keys))
	for _, key := range keys {
		joint, err := decodeJoint(base[key])
		if err != nil {
			return nil, errors.Wrapf(err, "joint %q", key)
		}
		joints = append(joints, joint)
	}

	if presorted {
		return joints, nil
	}
	return OrderJoints(joints, logger), nil
}

// decodeDescription returns the description keyed by joint (or index) along with the keys in
// document order.
func decodeDescription(description []byte) (map[string]interface{}, []string, bool, error) {
	trimmed := bytes.TrimSpace(description)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []interface{}
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, nil, false, errors.Wrap(err, "decoding model")
		}
		base := make(map[string]interface{}, len(list))
		keys := make([]string, 0, len(list))
		for i, joint := range list {
			key := strconv.Itoa(i)
			base[key] = joint
			keys = append(keys, key)
		}
		return base, keys, true, nil
	}

	var base map[string]interface{}
	if err := json.Unmarshal(trimmed, &base); err != nil {
		return nil, nil, false, errors.Wrap(err, "decoding model")
	}
	keys, err := objectKeys(trimmed)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "decoding model")
	}
	return base, keys, false, nil
}

// objectKeys lists the top level keys of a JSON object in document order, without duplicates.
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return nil, err
	} else if tok != json.Delim('{') {
		return nil, errors.New("expected a JSON object")
	}

	seen := map[string]bool{}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("unexpected token %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// LoadShapes fetches the convex shapes of each link: base, one per joint, then the end effector.
// Each link is a list of convex hulls, each hull a list of [x, y, z] vertices.
func (l *Loader) LoadShapes(ctx context.Context, source string, numJoints int) ([][][]r3.Vector, error) {
	data, err := l.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, errors.Wrap(err, "loading link shapes")
	}
	return ParseShapes(data, numJoints)
}

// ParseShapes decodes link shapes. See LoadShapes.
func ParseShapes(data []byte, numJoints int) ([][][]r3.Vector, error) {
	var raw [][][][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding link shapes")
	}
	if len(raw) != numJoints+2 {
		return nil, errors.Wrapf(ErrShapeCount, "got %d shapes for %d joints", len(raw), numJoints)
	}

	shapes := make([][][]r3.Vector, len(raw))
	for link, hulls := range raw {
		shapes[link] = make([][]r3.Vector, len(hulls))
		for h, hull := range hulls {
			vertices := make([]r3.Vector, len(hull))
			for v, xyz := range hull {
				if len(xyz) != 3 {
					return nil, errors.Errorf("link %d hull %d vertex %d has %d coordinates", link, h, v, len(xyz))
				}
				vertices[v] = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
			}
			shapes[link][h] = vertices
		}
	}
	return shapes, nil
}

// LoadTestPairs fetches the shape pairs to test for contact, or returns DefaultTestPairs for an
// empty source.
func (l *Loader) LoadTestPairs(ctx context.Context, source string) ([][2]int, error) {
	if source == "" {
		return append([][2]int(nil), DefaultTestPairs...), nil
	}
	data, err := l.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, errors.Wrap(err, "loading test pairs")
	}
	var pairs [][2]int
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, errors.Wrap(err, "decoding test pairs")
	}
	return pairs, nil
}

// FilterTestPairs drops pairs that reference a shape index outside [0, numShapes).
func FilterTestPairs(pairs [][2]int, numShapes int, logger logging.Logger) [][2]int {
	kept := make([][2]int, 0, len(pairs))
	for _, pair := range pairs {
		if pair[0] < 0 || pair[1] < 0 || pair[0] >= numShapes || pair[1] >= numShapes {
			logger.Warnw("test pair references a missing shape, ignored", "pair", pair, "shapes", numShapes)
			continue
		}
		kept = append(kept, pair)
	}
	return kept
}

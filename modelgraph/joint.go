// Package modelgraph turns a robot description into the ordered list of actuated joints that the
// kinematics engine is built from.
//
// Descriptions are URDF joints transcribed to JSON, either as an array that is already in
// parent-before-child order or as an object keyed by joint name:
//
//	{"shoulder": {"$": {"name": "shoulder", "type": "revolute"},
//	              "parent": {"$": {"link": "base"}}, "child": {"$": {"link": "upper_arm"}},
//	              "origin": {"$": {"xyz": "0 0 0.1", "rpy": [0, 0, 0]}},
//	              "axis": {"$": {"xyz": [0, 0, 1]}},
//	              "limit": {"$": {"lower": -3.14, "upper": 3.14}}}}
//
// Vectors may be given either as JSON arrays or as URDF-style space delimited strings.
package modelgraph

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// RevoluteType is the URDF joint type the engine actuates.
const RevoluteType = "revolute"

// Joint is one decoded joint of a description.
type Joint struct {
	Name   string
	Type   string
	Parent string
	Child  string
	// Origin translation and roll/pitch/yaw of the joint frame relative to its parent link.
	XYZ r3.Vector
	RPY r3.Vector
	// Axis of rotation. Defaults to +Z.
	Axis r3.Vector
	// Lower and Upper are the joint limits in radians.
	Lower float64
	Upper float64
}

// Revolute reports whether the joint is actuated.
func (j Joint) Revolute() bool {
	return j.Type == RevoluteType
}

type attrs[T any] struct {
	Attrs T `json:"$"`
}

type jointAttrs struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type linkAttrs struct {
	Link string `json:"link"`
}

type originAttrs struct {
	XYZ []float64 `json:"xyz"`
	RPY []float64 `json:"rpy"`
}

type axisAttrs struct {
	XYZ []float64 `json:"xyz"`
}

type limitAttrs struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// jointConfig mirrors the JSON layout of a joint. Unknown elements such as `dynamics` are allowed.
type jointConfig struct {
	Attrs  jointAttrs          `json:"$"`
	Parent attrs[linkAttrs]    `json:"parent"`
	Child  attrs[linkAttrs]    `json:"child"`
	Origin *attrs[originAttrs] `json:"origin"`
	Axis   *attrs[axisAttrs]   `json:"axis"`
	Limit  *attrs[limitAttrs]  `json:"limit"`
}

var float64SliceType = reflect.TypeOf([]float64{})

// spaceDelimitedFloatsHook decodes URDF vectors such as "0 0 1".
func spaceDelimitedFloatsHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != float64SliceType {
		return data, nil
	}
	fields := strings.Fields(data.(string))
	out := make([]float64, 0, len(fields))
	for _, field := range fields {
		val, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid vector %q", data)
		}
		out = append(out, val)
	}
	return out, nil
}

func decodeJoint(raw interface{}) (Joint, error) {
	var cfg jointConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       spaceDelimitedFloatsHook,
	})
	if err != nil {
		return Joint{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Joint{}, err
	}

	joint := Joint{
		Name:   cfg.Attrs.Name,
		Type:   cfg.Attrs.Type,
		Parent: cfg.Parent.Attrs.Link,
		Child:  cfg.Child.Attrs.Link,
		Axis:   r3.Vector{Z: 1},
	}
	if joint.Parent == "" || joint.Child == "" {
		return Joint{}, errors.Errorf("joint %q is missing its parent or child link", joint.Name)
	}
	if cfg.Origin != nil {
		joint.XYZ = vectorOr(cfg.Origin.Attrs.XYZ, r3.Vector{})
		joint.RPY = vectorOr(cfg.Origin.Attrs.RPY, r3.Vector{})
	}
	if cfg.Axis != nil {
		joint.Axis = vectorOr(cfg.Axis.Attrs.XYZ, r3.Vector{Z: 1})
	}
	if cfg.Limit != nil {
		joint.Lower = cfg.Limit.Attrs.Lower
		joint.Upper = cfg.Limit.Attrs.Upper
	} else if joint.Revolute() {
		return Joint{}, errors.Errorf("revolute joint %q has no limit", joint.Name)
	}
	return joint, nil
}

// vectorOr falls back when the vector is malformed rather than rejecting the joint.
func vectorOr(vals []float64, fallback r3.Vector) r3.Vector {
	if len(vals) != 3 {
		return fallback
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}
}

package modelgraph

import (
	"strings"

	"github.com/armcd/motionworker/logging"
)

type mergeFrame struct {
	base  map[string]interface{}
	patch map[string]interface{}
	path  []string
}

// MergeOverrides writes the leaves of `patch` into `base` and returns `base`. Where both sides hold
// an object the merge descends into it, otherwise the patch value replaces the base value
// wholesale, arrays included. The base is authoritative for the schema: patch keys missing from
// the base are dropped with a warning. Every replacement is logged.
func MergeOverrides(base, patch map[string]interface{}, logger logging.Logger) map[string]interface{} {
	if base == nil {
		base = map[string]interface{}{}
	}
	stack := []mergeFrame{{base: base, patch: patch}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for key, patchVal := range frame.patch {
			path := append(append([]string(nil), frame.path...), key)
			baseVal, ok := frame.base[key]
			if !ok {
				logger.Warnw("override key not in model, ignored", "key", strings.Join(path, "."))
				continue
			}

			baseObj, baseIsObj := baseVal.(map[string]interface{})
			patchObj, patchIsObj := patchVal.(map[string]interface{})
			if baseIsObj && patchIsObj {
				stack = append(stack, mergeFrame{base: baseObj, patch: patchObj, path: path})
				continue
			}

			logger.Infow("model value overridden", "key", strings.Join(path, "."), "from", baseVal, "to", patchVal)
			frame.base[key] = patchVal
		}
	}
	return base
}

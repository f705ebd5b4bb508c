package modelgraph

import (
	"github.com/armcd/motionworker/logging"
)

// OrderJoints sorts joints so every joint comes after the joint that produces its parent link. The
// sort is Kahn's algorithm over links: a link is ready once every joint producing it has been
// emitted, and emitting a ready link emits all joints hanging off it. Roots are visited in the
// order their links first appear, and children in input order, so the result is deterministic.
//
// A cycle or a joint whose parent is never produced leaves joints out of the result. That is
// logged and the partial order returned.
func OrderJoints(joints []Joint, logger logging.Logger) []Joint {
	children := map[string][]int{}
	inDegree := map[string]int{}
	var links []string
	see := func(link string) {
		if _, ok := inDegree[link]; !ok {
			inDegree[link] = 0
			links = append(links, link)
		}
	}
	for i, joint := range joints {
		see(joint.Parent)
		see(joint.Child)
		children[joint.Parent] = append(children[joint.Parent], i)
		inDegree[joint.Child]++
	}

	queue := make([]string, 0, len(links))
	for _, link := range links {
		if inDegree[link] == 0 {
			queue = append(queue, link)
		}
	}

	ordered := make([]Joint, 0, len(joints))
	for len(queue) > 0 {
		link := queue[0]
		queue = queue[1:]
		for _, idx := range children[link] {
			joint := joints[idx]
			ordered = append(ordered, joint)
			inDegree[joint.Child]--
			if inDegree[joint.Child] == 0 {
				queue = append(queue, joint.Child)
			}
		}
	}

	if len(ordered) != len(joints) {
		logger.Warnw("joint graph has a cycle or disconnected joints",
			"joints", len(joints), "ordered", len(ordered))
	}
	return ordered
}

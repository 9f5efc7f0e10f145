package inventory

import (
	"github.com/dock-tor/dock-tor/pkg/types"
)

// Deduplicate groups containers by image reference. Each distinct reference
// yields one target, in order of first appearance.
//
// References are compared as exact strings: "nginx" and "nginx:latest" are
// separate targets even though they usually resolve to the same image.
func Deduplicate(containers []types.ContainerRef) []types.ScanTarget {
	index := make(map[string]int)
	var targets []types.ScanTarget
	for _, c := range containers {
		i, ok := index[c.Image]
		if !ok {
			i = len(targets)
			index[c.Image] = i
			targets = append(targets, types.ScanTarget{Image: c.Image})
		}
		targets[i].Containers = append(targets[i].Containers, c)
	}
	return targets
}

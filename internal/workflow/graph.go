package workflow

import "errors"

// ErrDependencyCycle means the declared dependencies cannot be ordered.
var ErrDependencyCycle = errors.New("dependency cycle")

// ErrDependencyFailed marks a task skipped because a dependency did not
// complete successfully.
var ErrDependencyFailed = errors.New("dependency failed")

// layerTasks partitions tasks into dependency layers via Kahn's
// algorithm: every task in layer n depends only on tasks in earlier
// layers. Within a layer, original list order is preserved, which keeps
// execution deterministic. Dependency names that resolve to tasks outside
// the given slice (or to nothing) add no edge; the scheduler gates on
// their recorded outcome separately.
func layerTasks(tasks []*Task) ([][]*Task, error) {
	byName := make(map[string]int, len(tasks))
	for i, t := range tasks {
		byName[t.Name] = i
	}

	indegree := make([]int, len(tasks))
	dependents := make(map[int][]int)
	for i, t := range tasks {
		for _, dep := range t.DependsOn {
			j, ok := byName[dep]
			if !ok || j == i {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var layers [][]*Task
	placed := 0
	ready := make([]bool, len(tasks))
	for i := range tasks {
		ready[i] = indegree[i] == 0
	}

	for placed < len(tasks) {
		var layer []*Task
		var layerIdx []int
		for i, t := range tasks {
			if ready[i] {
				layer = append(layer, t)
				layerIdx = append(layerIdx, i)
				ready[i] = false
			}
		}
		if len(layer) == 0 {
			return nil, ErrDependencyCycle
		}
		for _, i := range layerIdx {
			indegree[i] = -1 // consumed
			for _, dep := range dependents[i] {
				indegree[dep]--
				if indegree[dep] == 0 {
					ready[dep] = true
				}
			}
		}
		placed += len(layer)
		layers = append(layers, layer)
	}
	return layers, nil
}

package catalog

import (
	"fmt"
	"strings"

	"srcsnap/internal/snap"
)

// deletionOrder returns the ids to remove when deleting id: every snapshot
// that transitively borrows bytes from it, furthest first, then id itself.
// Without cascade any dependant is a conflict.
func deletionOrder(
	id string,
	cascade bool,
	dependants func(id string) ([]string, error),
	exists func(id string) (bool, error),
) ([]string, error) {
	ok, err := exists(id)
	if err != nil {
		return nil, fmt.Errorf("looking up snapshot %s: %w", id, err)
	}
	if !ok {
		return nil, snap.NotFoundError("delete", id, "")
	}

	seen := map[string]bool{id: true}
	var found []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		deps, err := dependants(cur)
		if err != nil {
			return nil, fmt.Errorf("finding dependants of %s: %w", cur, err)
		}
		for _, d := range deps {
			if seen[d] {
				continue
			}
			seen[d] = true
			found = append(found, d)
			queue = append(queue, d)
		}
		if !cascade && len(found) > 0 {
			return nil, snap.ConflictError("delete", id,
				fmt.Errorf("still referenced by %s", strings.Join(found, ", ")))
		}
	}

	order := make([]string, 0, len(found)+1)
	for i := len(found) - 1; i >= 0; i-- {
		order = append(order, found[i])
	}
	return append(order, id), nil
}

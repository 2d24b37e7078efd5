// Package outputs records which task produces each declared output
// location, so any path in the repository can be attributed to its
// producer.
package outputs

import (
	"fmt"
	"slices"
	"sync"

	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskid"
)

// Registry maps output locations to the task that owns them. It is built
// while the task graph is constructed and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	owners map[repopath.Path]taskid.TaskName
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{owners: make(map[repopath.Path]taskid.TaskName)}
}

// Add registers task as the owner of loc. An existing entry for the same
// exact path is overwritten.
func (r *Registry) Add(task taskid.TaskName, loc repopath.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[loc] = task
}

// Lookup finds the owner of p by walking up its ancestry. The repository
// root itself is never an output location, so the walk stops below it.
func (r *Registry) Lookup(p repopath.Path) (taskid.TaskName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(p)
}

func (r *Registry) lookupLocked(p repopath.Path) (taskid.TaskName, bool) {
	for cur := p; !cur.IsRoot(); {
		if owner, ok := r.owners[cur]; ok {
			return owner, true
		}
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		cur = parent
	}
	return taskid.TaskName{}, false
}

// WideLookup returns the single owner found by Lookup, or otherwise every
// task owning an output nested under p, sorted by task name.
func (r *Registry) WideLookup(p repopath.Path) []taskid.TaskName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if owner, ok := r.lookupLocked(p); ok {
		return []taskid.TaskName{owner}
	}

	seen := make(map[taskid.TaskName]struct{})
	var found []taskid.TaskName
	for loc, owner := range r.owners {
		if !p.Contains(loc) {
			continue
		}
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		found = append(found, owner)
	}
	taskid.SortNames(found)
	return found
}

// Claim registers loc for task unless it overlaps an output of another
// task, in either direction.
func (r *Registry) Claim(task taskid.TaskName, loc repopath.Path) error {
	if loc.IsRoot() {
		return fmt.Errorf("output collision: %s cannot claim the repo root", task)
	}
	for _, owner := range r.WideLookup(loc) {
		if owner != task {
			return fmt.Errorf("output collision: %q of %s overlaps an output of %s", loc, task, owner)
		}
	}
	r.Add(task, loc)
	return nil
}

// Owned returns the locations registered for task, sorted.
func (r *Registry) Owned(task taskid.TaskName) []repopath.Path {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var locs []repopath.Path
	for loc, owner := range r.owners {
		if owner == task {
			locs = append(locs, loc)
		}
	}
	slices.SortFunc(locs, repopath.Path.Compare)
	return locs
}

// Entry is one registered location.
type Entry struct {
	Path repopath.Path
	Task taskid.TaskName
}

// Entries lists every registration sorted by path.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.owners))
	for loc, owner := range r.owners {
		entries = append(entries, Entry{Path: loc, Task: owner})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.Path.Compare(b.Path) })
	return entries
}

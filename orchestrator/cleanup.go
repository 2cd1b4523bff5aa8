package orchestrator

import (
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CleanupTask is one action the orchestrator must run on every terminal
// outcome, success or failure. Lower Priority values run first — the
// typical set (close ICAP socket 90, close backend connection, clear
// Buffer 95, drop resource-tracker entries 100) reads naturally in
// that order: release the two network sockets, then the buffer they
// were reading from, then the bookkeeping that tracked all of it.
type CleanupTask struct {
	Name     string
	Priority int
	Run      func() error
}

// cleanupQueue collects tasks as phases register them and runs them
// once, in ascending priority order, isolating each task's error so one
// failure never skips the rest.
type cleanupQueue struct {
	tasks []CleanupTask
}

func (q *cleanupQueue) register(task CleanupTask) {
	q.tasks = append(q.tasks, task)
}

// runAll executes every registered task and returns every error
// encountered, keyed by task name, so the terminal log line can report
// exactly what failed. Tasks are grouped into priority tiers (lower
// Priority values run first); within a tier, tasks run concurrently via
// errgroup since same-priority tasks (the two network sockets, say)
// have no ordering dependency on each other and releasing them in
// parallel keeps the cleanup pass off the request's tail latency.
func (q *cleanupQueue) runAll() map[string]error {
	ordered := make([]CleanupTask, len(q.tasks))
	copy(ordered, q.tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var mu sync.Mutex
	errs := make(map[string]error)

	i := 0
	for i < len(ordered) {
		j := i
		for j < len(ordered) && ordered[j].Priority == ordered[i].Priority {
			j++
		}
		tier := ordered[i:j]

		var g errgroup.Group
		for _, t := range tier {
			t := t
			if t.Run == nil {
				continue
			}
			g.Go(func() error {
				err := runCleanupTask(t)
				if err != nil {
					mu.Lock()
					errs[t.Name] = err
					mu.Unlock()
				}
				return nil
			})
		}
		g.Wait()

		i = j
	}
	return errs
}

func runCleanupTask(t CleanupTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return t.Run()
}

type panicError struct{ value interface{} }

func (p panicError) Error() string {
	return "cleanup task panicked"
}

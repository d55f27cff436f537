package parallel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// Workers resolves an n_jobs setting against the number of items:
// values <= 0 mean one worker per CPU, and there are never more workers than items.
func Workers(nJobs, items int) int {
	n := nJobs
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > items {
		n = items
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Parallelize divides the specified total number (items) according to the number of CPU cores,
// and executes the specified function (fn) in parallel for each range (start, end)
func Parallelize(items int, fn func(start, end int)) {
	ParallelizeN(items, 0, fn)
}

// ParallelizeN is Parallelize with an explicit worker count (see Workers).
func ParallelizeN(items, nJobs int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	numWorkers := Workers(nJobs, items)
	if numWorkers == 1 {
		fn(0, items)
		return
	}

	// ceiling division
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold
// If below threshold, normal sequential processing is performed
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ForEach calls fn(i) for every i in [0, items) on at most nJobs workers.
// A panic inside fn is recovered into an error. The returned error is the one
// with the lowest index, so the result does not depend on scheduling.
func ForEach(items, nJobs int, fn func(i int) error) error {
	if items <= 0 {
		return nil
	}
	errs := make([]error, items)
	ParallelizeN(items, nJobs, func(start, end int) {
		for i := start; i < end; i++ {
			errs[i] = errors.SafeExecute(fmt.Sprintf("parallel item %d", i), func() error {
				return fn(i)
			})
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

package utils

import "sync"

type CompletedTask[In any, Out any] struct {
	Task   In
	Result Out
	Error  error
}

// RunInPool drains queue with at most maxWorkers goroutines and closes
// completed once every task has been reported. Tasks are reported in the order
// they finish. A failed task still carries whatever result the worker
// returned alongside its error.
func RunInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan CompletedTask[In, Out], maxWorkers int) {
	workers := min(len(queue), max(maxWorkers, 1))

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for {
					next, ok := <-queue
					if !ok {
						return
					}

					res, err := worker(next)
					completed <- CompletedTask[In, Out]{Task: next, Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

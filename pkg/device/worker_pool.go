package device

import (
	"fmt"
	"sync"
)

// WorkgroupTask is a contiguous range of kernel invocations
type WorkgroupTask struct {
	ID     int
	Start  int
	End    int
	Kernel func(index int)
	Done   chan<- WorkgroupResult
}

// WorkgroupResult reports the completion of a workgroup
type WorkgroupResult struct {
	ID  int
	Err error
}

// WorkerPool runs workgroups on a fixed set of goroutines
type WorkerPool struct {
	taskQueue  chan WorkgroupTask
	numWorkers int
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewWorkerPool creates a worker pool with the specified number of workers
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &WorkerPool{
		taskQueue:  make(chan WorkgroupTask, numWorkers*4),
		numWorkers: numWorkers,
	}
}

// Start begins all workers
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.run()
	}
}

// Stop gracefully shuts down all workers after queued tasks finish
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.taskQueue)
		wp.wg.Wait()
	})
}

// SubmitTask queues a workgroup, blocking while the queue is full
func (wp *WorkerPool) SubmitTask(task WorkgroupTask) {
	wp.taskQueue <- task
}

// NumWorkers returns the number of workers in the pool
func (wp *WorkerPool) NumWorkers() int {
	return wp.numWorkers
}

// run is the main worker loop
func (wp *WorkerPool) run() {
	defer wp.wg.Done()

	for task := range wp.taskQueue {
		task.Done <- WorkgroupResult{ID: task.ID, Err: execute(task)}
	}
}

// execute runs every invocation of a workgroup. Each index writes only its
// own output, so workgroups never overlap.
func execute(task WorkgroupTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workgroup %d [%d, %d): %v", task.ID, task.Start, task.End, r)
		}
	}()
	for i := task.Start; i < task.End; i++ {
		task.Kernel(i)
	}
	return nil
}

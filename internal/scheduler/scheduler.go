// Package scheduler runs recurring maintenance tasks on cron
// schedules: topic cleanup, failed-cluster cleanup, and cluster health
// checks.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// Handler executes one task. It returns the structured result recorded
// on the execution.
type Handler func(ctx context.Context, task *domain.ScheduledTask, execution *domain.TaskExecution) (map[string]interface{}, error)

const (
	tickInterval   = 30 * time.Second
	historyDefault = 1000
)

// Scheduler owns the task registry, a single dispatch loop, and a
// bounded execution pool. Executions of the same task never overlap.
type Scheduler struct {
	mu        sync.Mutex
	tasks     map[string]*domain.ScheduledTask
	schedules map[string]*Schedule
	handlers  map[domain.TaskType]Handler
	inFlight  map[string]bool

	history     []*domain.TaskExecution
	historyByID map[string]*domain.TaskExecution
	historyMax  int

	workers *semaphore.Weighted
	logger  *logrus.Logger
	clock   func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a scheduler with the given worker pool size.
func New(workerPoolSize int, logger *logrus.Logger) *Scheduler {
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	return &Scheduler{
		tasks:       make(map[string]*domain.ScheduledTask),
		schedules:   make(map[string]*Schedule),
		handlers:    make(map[domain.TaskType]Handler),
		inFlight:    make(map[string]bool),
		historyByID: make(map[string]*domain.TaskExecution),
		historyMax:  historyDefault,
		workers:     semaphore.NewWeighted(int64(workerPoolSize)),
		logger:      logger,
		clock:       time.Now,
		done:        make(chan struct{}),
	}
}

// SetHistoryLimit caps the in-memory execution history. Values below
// one keep the default.
func (s *Scheduler) SetHistoryLimit(limit int) {
	if limit < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyMax = limit
}

// RegisterHandler binds a task type to its handler.
func (s *Scheduler) RegisterHandler(taskType domain.TaskType, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = handler
}

// AddTask registers a task and computes its first run time.
func (s *Scheduler) AddTask(task *domain.ScheduledTask) error {
	if task.TaskID == "" {
		return errors.New(errors.CodeValidation, "task_id is required")
	}
	schedule, err := ParseCron(task.CronExpression)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.TaskID]; exists {
		return errors.Newf(errors.CodeTaskAlreadyExists, "task %s is already registered", task.TaskID)
	}
	if _, ok := s.handlers[task.TaskType]; !ok {
		return errors.Newf(errors.CodeValidation, "no handler registered for task type %s", task.TaskType)
	}
	task.NextRun = schedule.Next(s.clock())
	s.tasks[task.TaskID] = task
	s.schedules[task.TaskID] = schedule
	s.logger.WithFields(logrus.Fields{
		"task_id":  task.TaskID,
		"type":     task.TaskType,
		"next_run": task.NextRun,
	}).Info("scheduled task registered")
	return nil
}

// RemoveTask unregisters a task. Executions already running finish.
func (s *Scheduler) RemoveTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[taskID]; !exists {
		return errors.Newf(errors.CodeTaskNotFound, "task %s is not registered", taskID)
	}
	delete(s.tasks, taskID)
	delete(s.schedules, taskID)
	return nil
}

func (s *Scheduler) setEnabled(taskID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, exists := s.tasks[taskID]
	if !exists {
		return errors.Newf(errors.CodeTaskNotFound, "task %s is not registered", taskID)
	}
	task.Enabled = enabled
	if enabled {
		task.NextRun = s.schedules[taskID].Next(s.clock())
	}
	return nil
}

// EnableTask turns a task on and recomputes its next run.
func (s *Scheduler) EnableTask(taskID string) error { return s.setEnabled(taskID, true) }

// DisableTask turns a task off without removing it.
func (s *Scheduler) DisableTask(taskID string) error { return s.setEnabled(taskID, false) }

// GetTask returns a copy of one registered task.
func (s *Scheduler) GetTask(taskID string) (*domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, exists := s.tasks[taskID]
	if !exists {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s is not registered", taskID)
	}
	copied := *task
	return &copied, nil
}

// ListTasks returns copies of all registered tasks, ordered by id.
func (s *Scheduler) ListTasks() []*domain.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ScheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the loop and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

// dispatchDue selects enabled tasks whose next run has passed and
// hands them to the worker pool. A task with a still-running execution
// is skipped until it terminates.
func (s *Scheduler) dispatchDue() {
	now := s.clock()

	s.mu.Lock()
	var due []*domain.ScheduledTask
	for _, task := range s.tasks {
		if task.Enabled && !s.inFlight[task.TaskID] && !task.NextRun.After(now) {
			s.inFlight[task.TaskID] = true
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		s.wg.Add(1)
		go func(task *domain.ScheduledTask) {
			defer s.wg.Done()
			s.execute(context.Background(), task, true)
		}(task)
	}
}

// ExecuteNow runs a registered task immediately, outside its schedule.
// The returned execution record can be polled for progress.
func (s *Scheduler) ExecuteNow(taskID string) (*domain.TaskExecution, error) {
	s.mu.Lock()
	task, exists := s.tasks[taskID]
	if !exists {
		s.mu.Unlock()
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s is not registered", taskID)
	}
	if s.inFlight[taskID] {
		s.mu.Unlock()
		return nil, errors.Newf(errors.CodeOperationInProgress, "task %s is already running", taskID)
	}
	s.inFlight[taskID] = true
	s.mu.Unlock()

	execution := s.newExecution(task.TaskID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.Background(), task, execution, false)
	}()
	copied := *execution
	return &copied, nil
}

func (s *Scheduler) newExecution(taskID string) *domain.TaskExecution {
	execution := &domain.TaskExecution{
		ExecutionID: uuid.NewString(),
		TaskID:      taskID,
		Status:      domain.ExecutionPending,
		StartedAt:   s.clock(),
	}
	s.mu.Lock()
	s.history = append(s.history, execution)
	s.historyByID[execution.ExecutionID] = execution
	if len(s.history) > s.historyMax {
		evicted := s.history[0]
		s.history = s.history[1:]
		delete(s.historyByID, evicted.ExecutionID)
	}
	s.mu.Unlock()
	return execution
}

func (s *Scheduler) execute(ctx context.Context, task *domain.ScheduledTask, scheduled bool) {
	s.run(ctx, task, s.newExecution(task.TaskID), scheduled)
}

// run drives one execution: acquire a worker slot, invoke the handler,
// record the outcome, and update the task's counters.
func (s *Scheduler) run(ctx context.Context, task *domain.ScheduledTask, execution *domain.TaskExecution, scheduled bool) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, task.TaskID)
		s.mu.Unlock()
	}()

	log := s.logger.WithFields(logrus.Fields{
		"task_id":      task.TaskID,
		"execution_id": execution.ExecutionID,
	})

	if err := s.workers.Acquire(ctx, 1); err != nil {
		s.finish(task, execution, scheduled, nil, err)
		return
	}
	defer s.workers.Release(1)

	s.mu.Lock()
	handler := s.handlers[task.TaskType]
	execution.Status = domain.ExecutionRunning
	s.mu.Unlock()

	if handler == nil {
		s.finish(task, execution, scheduled, nil, errors.Newf(errors.CodeValidation, "no handler registered for task type %s", task.TaskType))
		return
	}

	log.Info("task execution started")
	result, err := handler(ctx, task, execution)
	s.finish(task, execution, scheduled, result, err)
	if err != nil {
		log.WithError(err).Warn("task execution failed")
	} else {
		log.Info("task execution completed")
	}
}

func (s *Scheduler) finish(task *domain.ScheduledTask, execution *domain.TaskExecution, scheduled bool, result map[string]interface{}, err error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	completed := now
	execution.CompletedAt = &completed
	if err != nil {
		execution.Status = domain.ExecutionFailed
		execution.ErrorMessage = err.Error()
		task.FailureCount++
	} else {
		execution.Status = domain.ExecutionCompleted
		execution.Result = result
	}
	task.RunCount++
	lastRun := now
	task.LastRun = &lastRun
	if scheduled {
		if schedule, ok := s.schedules[task.TaskID]; ok {
			task.NextRun = schedule.Next(now)
		}
	}
	observeExecution(task.TaskType, err)
}

// GetExecution returns a copy of one execution record.
func (s *Scheduler) GetExecution(executionID string) (*domain.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.historyByID[executionID]
	if !ok {
		return nil, errors.Newf(errors.CodeExecutionNotFound, "execution %s not found", executionID)
	}
	copied := *execution
	return &copied, nil
}

// ListExecutions returns execution records most-recent-first,
// optionally filtered by task id.
func (s *Scheduler) ListExecutions(taskID string, limit int) []*domain.TaskExecution {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.TaskExecution, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		execution := s.history[i]
		if taskID != "" && execution.TaskID != taskID {
			continue
		}
		copied := *execution
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

package core

import (
	"context"
	"fmt"
	"log"
	"time"
)

// TaskSpec is one ordered sub-task within a crew.
type TaskSpec struct {
	Name       string
	Spec       ExecutorSpec
	UseContext bool // feed the previous sub-task's raw output as context
}

// Crew wraps one or more executors into a cohesive unit that executes
// ordered sub-tasks, optionally chaining output into later sub-tasks.
type Crew struct {
	name     string
	executor Executor
	tasks    []TaskSpec
	logger   *log.Logger
}

// NewCrew builds a crew over a shared executor.
func NewCrew(name string, executor Executor, tasks ...TaskSpec) *Crew {
	return &Crew{
		name:     name,
		executor: executor,
		tasks:    tasks,
		logger:   log.New(log.Writer(), "[CREW] ", log.LstdFlags),
	}
}

// Kickoff runs all sub-tasks in order and returns the final sub-task's
// result, with token/cost accounting aggregated across the whole crew.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]any) (Result, error) {
	if len(c.tasks) == 0 {
		return Result{}, fmt.Errorf("crew %s has no tasks", c.name)
	}

	start := time.Now()
	var (
		prev  Result
		total Result
	)
	for i, task := range c.tasks {
		spec := task.Spec
		if task.UseContext && i > 0 {
			// Single-hop chaining: context is exactly the previous output.
			spec.Context = prev.Raw
		}
		res, err := c.executor.Execute(ctx, spec, inputs)
		total.TokensIn += res.TokensIn
		total.TokensOut += res.TokensOut
		total.Cost += res.Cost
		total.Steps += res.Steps
		if err != nil {
			return total, fmt.Errorf("crew %s task %s: %w", c.name, task.Name, err)
		}
		prev = res
	}

	total.Raw = prev.Raw
	total.Output = prev.Output
	total.ModelUsed = prev.ModelUsed
	total.Attempts = prev.Attempts
	c.logger.Printf("crew %s completed %d tasks in %v", c.name, len(c.tasks), time.Since(start))
	return total, nil
}

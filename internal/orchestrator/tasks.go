package orchestrator

import (
	"fmt"
	"path/filepath"

	"impact-datagen/internal/config"
)

const (
	InputFileName = "input.json"
	JobIDFileName = "job_id.txt"
)

// Task is one (asset class, row count) pair of an experiment. Index is the
// position of the task in the plan and seeds its random generator.
type Task struct {
	Index      int
	Experiment int
	AssetClass string
	Rows       int
}

// Tasks expands a plan into one task per asset class and row count, classes
// outermost.
func Tasks(plan config.Plan) []Task {
	tasks := make([]Task, 0, len(plan.AssetClasses)*len(plan.Rows))
	for _, assetClass := range plan.AssetClasses {
		for _, rows := range plan.Rows {
			tasks = append(tasks, Task{
				Index:      len(tasks),
				Experiment: plan.Experiment,
				AssetClass: assetClass,
				Rows:       rows,
			})
		}
	}
	return tasks
}

func (t Task) Name() string {
	return fmt.Sprintf("e%d_%s_%d", t.Experiment, t.AssetClass, t.Rows)
}

// Dir is the output directory of the task: <base>/<class>/e<exp>_<class>_<rows>.
func (t Task) Dir(baseDir string) string {
	return filepath.Join(baseDir, t.AssetClass, t.Name())
}

func (t Task) InputFile(baseDir string) string {
	return filepath.Join(t.Dir(baseDir), InputFileName)
}

func (t Task) JobIDFile(baseDir string) string {
	return filepath.Join(t.Dir(baseDir), JobIDFileName)
}

func (t Task) OutputFile(baseDir string) string {
	return filepath.Join(t.Dir(baseDir), ResultFileName(t.AssetClass, t.Rows))
}

func ResultFileName(assetClass string, rows int) string {
	return fmt.Sprintf("output_%s_%d.json", assetClass, rows)
}

// ArchivePrefix is the object key prefix the task directory is uploaded under.
func (t Task) ArchivePrefix() string {
	return filepath.ToSlash(filepath.Join(t.AssetClass, t.Name()))
}

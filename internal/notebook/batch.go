package notebook

import "fmt"

// Progress reports batch position: current is 1-based.
type Progress struct {
	Current int
	Total   int
}

// BatchOptions shape a batch run.
type BatchOptions struct {
	// ContinueOnError keeps executing after a failing cell. The default
	// stops at the first error.
	ContinueOnError bool
	// OnProgress fires before each cell executes.
	OnProgress func(Progress)
	// OnOutput observes every output as it streams, tagged by cell.
	OnOutput func(cellID string, out Output)
}

// RunAll executes code cells in order, awaiting each cell's terminal
// output before submitting the next. Outputs and execution counts are
// written back onto the cells. Returns the id of the failing cell when
// the batch stopped early.
func (k *Kernel) RunAll(cells []*Cell, opts BatchOptions) (string, error) {
	code := make([]*Cell, 0, len(cells))
	for _, cell := range cells {
		if cell.Type == CellCode {
			code = append(code, cell)
		}
	}

	for i, cell := range code {
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Current: i + 1, Total: len(code)})
		}

		failed, err := k.runCell(cell, opts)
		if err != nil {
			return cell.ID, err
		}
		if failed && !opts.ContinueOnError {
			return cell.ID, nil
		}
	}
	return "", nil
}

// RunAllAbove executes every code cell strictly before the given cell.
func (k *Kernel) RunAllAbove(cells []*Cell, cellID string, opts BatchOptions) (string, error) {
	idx, err := indexOf(cells, cellID)
	if err != nil {
		return "", err
	}
	return k.RunAll(cells[:idx], opts)
}

// RunAllBelow executes the given cell and every code cell after it.
func (k *Kernel) RunAllBelow(cells []*Cell, cellID string, opts BatchOptions) (string, error) {
	idx, err := indexOf(cells, cellID)
	if err != nil {
		return "", err
	}
	return k.RunAll(cells[idx:], opts)
}

func indexOf(cells []*Cell, cellID string) (int, error) {
	for i, cell := range cells {
		if cell.ID == cellID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("cell %q not found in notebook", cellID)
}

// runCell executes one cell to completion, collecting outputs in FIFO
// order. Prior outputs clear before the new stream starts. Returns
// whether the cell errored.
func (k *Kernel) runCell(cell *Cell, opts BatchOptions) (failed bool, err error) {
	exec, err := k.Run(cell.ID, cell.Source)
	if err != nil {
		return false, err
	}

	cell.Outputs = nil
	for out := range exec.Outputs {
		if opts.OnOutput != nil {
			opts.OnOutput(cell.ID, out)
		}
		// An empty result value leaves the cell without an
		// execute_result entry, like a statement-only cell.
		if result, ok := out.(ExecuteResultOutput); ok && len(result.Data) == 0 {
			continue
		}
		cell.Outputs = append(cell.Outputs, out)
		if _, ok := out.(ErrorOutput); ok {
			failed = true
		}
	}

	count := exec.Count()
	cell.ExecutionCount = &count
	return failed, nil
}

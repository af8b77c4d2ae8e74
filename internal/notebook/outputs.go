// Package notebook implements the notebook document model and the
// execution orchestrator: kernel lifecycle, run-queue, output streaming,
// and on-demand package resolution.
package notebook

import (
	"encoding/json"
	"fmt"
)

// Output is a closed sum over the nbformat output types.
type Output interface {
	outputType() string
}

// StreamOutput is stdout or stderr text.
type StreamOutput struct {
	Name string // "stdout" or "stderr"
	Text string
}

// DisplayDataOutput carries mime-keyed display payloads.
type DisplayDataOutput struct {
	Data     map[string]any
	Metadata map[string]any
}

// ExecuteResultOutput is the value of the last expression.
type ExecuteResultOutput struct {
	Data           map[string]any
	ExecutionCount int
}

// ErrorOutput is a raised exception.
type ErrorOutput struct {
	EName     string
	EValue    string
	Traceback []string
}

func (StreamOutput) outputType() string        { return "stream" }
func (DisplayDataOutput) outputType() string   { return "display_data" }
func (ExecuteResultOutput) outputType() string { return "execute_result" }
func (ErrorOutput) outputType() string         { return "error" }

func marshalOutput(o Output) (map[string]any, error) {
	switch out := o.(type) {
	case StreamOutput:
		return map[string]any{
			"output_type": "stream",
			"name":        out.Name,
			"text":        splitSourceLines(out.Text),
		}, nil
	case DisplayDataOutput:
		md := out.Metadata
		if md == nil {
			md = map[string]any{}
		}
		return map[string]any{
			"output_type": "display_data",
			"data":        out.Data,
			"metadata":    md,
		}, nil
	case ExecuteResultOutput:
		return map[string]any{
			"output_type":     "execute_result",
			"data":            out.Data,
			"metadata":        map[string]any{},
			"execution_count": out.ExecutionCount,
		}, nil
	case ErrorOutput:
		return map[string]any{
			"output_type": "error",
			"ename":       out.EName,
			"evalue":      out.EValue,
			"traceback":   out.Traceback,
		}, nil
	}
	return nil, fmt.Errorf("unknown output type %T", o)
}

func unmarshalOutput(raw json.RawMessage) (Output, error) {
	var head struct {
		OutputType string `json:"output_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("malformed output: %w", err)
	}

	switch head.OutputType {
	case "stream":
		var body struct {
			Name string          `json:"name"`
			Text json.RawMessage `json:"text"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("malformed stream output: %w", err)
		}
		text, err := joinSourceLines(body.Text)
		if err != nil {
			return nil, err
		}
		return StreamOutput{Name: body.Name, Text: text}, nil

	case "display_data":
		var body struct {
			Data     map[string]any `json:"data"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("malformed display_data output: %w", err)
		}
		return DisplayDataOutput{Data: body.Data, Metadata: body.Metadata}, nil

	case "execute_result":
		var body struct {
			Data           map[string]any `json:"data"`
			ExecutionCount int            `json:"execution_count"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("malformed execute_result output: %w", err)
		}
		return ExecuteResultOutput{Data: body.Data, ExecutionCount: body.ExecutionCount}, nil

	case "error":
		var body struct {
			EName     string   `json:"ename"`
			EValue    string   `json:"evalue"`
			Traceback []string `json:"traceback"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("malformed error output: %w", err)
		}
		return ErrorOutput{EName: body.EName, EValue: body.EValue, Traceback: body.Traceback}, nil
	}
	return nil, fmt.Errorf("unknown output_type %q", head.OutputType)
}

package notebook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNotebook = `{
 "nbformat": 4,
 "nbformat_minor": 5,
 "metadata": {"kernelspec": {"name": "python3", "display_name": "Python 3"}},
 "cells": [
  {
   "id": "c1",
   "cell_type": "code",
   "source": ["x = 1\n", "print(x)"],
   "metadata": {},
   "execution_count": 2,
   "outputs": [
    {"output_type": "stream", "name": "stdout", "text": ["1\n"]},
    {"output_type": "execute_result", "data": {"text/plain": "1"}, "metadata": {}, "execution_count": 2},
    {"output_type": "error", "ename": "E", "evalue": "boom", "traceback": ["tb"]}
   ]
  },
  {
   "id": "c2",
   "cell_type": "markdown",
   "source": "# Title",
   "metadata": {}
  }
 ]
}`

func TestParseNotebook(t *testing.T) {
	nb, err := ParseNotebook([]byte(sampleNotebook))
	require.NoError(t, err)

	assert.Equal(t, 4, nb.NBFormat)
	assert.Equal(t, 5, nb.NBFormatMinor)
	require.Len(t, nb.Cells, 2)

	code := nb.Cells[0]
	assert.Equal(t, CellCode, code.Type)
	assert.Equal(t, "x = 1\nprint(x)", code.Source)
	require.NotNil(t, code.ExecutionCount)
	assert.Equal(t, 2, *code.ExecutionCount)
	require.Len(t, code.Outputs, 3)

	stream, ok := code.Outputs[0].(StreamOutput)
	require.True(t, ok)
	assert.Equal(t, "stdout", stream.Name)
	assert.Equal(t, "1\n", stream.Text)

	result, ok := code.Outputs[1].(ExecuteResultOutput)
	require.True(t, ok)
	assert.Equal(t, 2, result.ExecutionCount)

	errOut, ok := code.Outputs[2].(ErrorOutput)
	require.True(t, ok)
	assert.Equal(t, "E", errOut.EName)

	md := nb.Cells[1]
	assert.Equal(t, CellMarkdown, md.Type)
	assert.Equal(t, "# Title", md.Source)
	assert.Nil(t, md.Outputs)
}

func TestRoundTrip(t *testing.T) {
	// parse(serialize(N)) == N modulo whitespace inside source arrays.
	nb, err := ParseNotebook([]byte(sampleNotebook))
	require.NoError(t, err)

	data, err := SerializeNotebook(nb)
	require.NoError(t, err)

	again, err := ParseNotebook(data)
	require.NoError(t, err)
	assert.Equal(t, nb, again)
}

func TestSerialize_SourceArrayNewlines(t *testing.T) {
	nb := &Notebook{
		NBFormat:      4,
		NBFormatMinor: 5,
		Cells: []Cell{
			{ID: "c1", Type: CellMarkdown, Source: "one\ntwo\nthree"},
		},
	}
	data, err := SerializeNotebook(nb)
	require.NoError(t, err)

	var raw struct {
		Cells []struct {
			Source []string `json:"source"`
		} `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw.Cells, 1)
	// Every non-final entry ends in a newline.
	assert.Equal(t, []string{"one\n", "two\n", "three"}, raw.Cells[0].Source)
}

func TestParseNotebook_GeneratesMissingCellIDs(t *testing.T) {
	data := `{"nbformat":4,"nbformat_minor":2,"metadata":{},"cells":[
		{"cell_type":"code","source":"1","metadata":{},"outputs":[],"execution_count":null}]}`
	nb, err := ParseNotebook([]byte(data))
	require.NoError(t, err)
	assert.NotEmpty(t, nb.Cells[0].ID)
	assert.Nil(t, nb.Cells[0].ExecutionCount)
}

func TestParseNotebook_Malformed(t *testing.T) {
	_, err := ParseNotebook([]byte(`{`))
	assert.Error(t, err)

	_, err = ParseNotebook([]byte(`{"nbformat":4,"cells":[{"cell_type":"bogus","source":""}]}`))
	assert.Error(t, err)

	_, err = ParseNotebook([]byte(`{"nbformat":4,"cells":[{"cell_type":"code","source":42}]}`))
	assert.Error(t, err)
}

func TestSplitSourceLines(t *testing.T) {
	assert.Equal(t, []string{}, splitSourceLines(""))
	assert.Equal(t, []string{"a"}, splitSourceLines("a"))
	assert.Equal(t, []string{"a\n"}, splitSourceLines("a\n"))
	assert.Equal(t, []string{"a\n", "b"}, splitSourceLines("a\nb"))
}

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEval struct {
	chunks []string
}

func (f *fakeEval) Eval(_ context.Context, code string) (any, error) {
	f.chunks = append(f.chunks, code)
	switch code {
	case "boom;":
		return nil, errors.New("boom")
	case "x = 1;":
		return nil, nil
	case "1.5;":
		return 1.5, nil
	}
	return 2.0, nil
}

func TestReplSplitsChunksOnSemicolon(t *testing.T) {
	f := &fakeEval{}
	in := strings.NewReader("x = 1;\nlocal t = {\n  a = 1\n};\nboom;\n1.5;\n1 + 1;\nexit;\nnever;\n")
	var out, errOut bytes.Buffer

	require.NoError(t, repl(context.Background(), f, in, &out, &errOut, false))
	assert.Equal(t, []string{"x = 1;", "local t = {\n  a = 1\n};", "boom;", "1.5;", "1 + 1;"}, f.chunks)
	assert.Equal(t, "2\n1.5\n2\n", out.String())
	assert.Equal(t, "error: boom\n", errOut.String())
}

func TestReplPrompts(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, repl(context.Background(), &fakeEval{}, strings.NewReader("a\nb;\n"), &out, &errOut, true))
	assert.Equal(t, "> >> > ", errOut.String())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"txt", "log", "json"}, splitList([]string{"txt, log", "", "json"}))
}

func TestReplEvaluatesTrailingChunkAtEOF(t *testing.T) {
	f := &fakeEval{}
	var out, errOut bytes.Buffer
	require.NoError(t, repl(context.Background(), f, strings.NewReader("x = 1;\nprint(\n  'hi')"), &out, &errOut, false))
	assert.Equal(t, []string{"x = 1;", "print(\n  'hi')"}, f.chunks)
	assert.Equal(t, "2\n", out.String())
	assert.Empty(t, errOut.String())
}

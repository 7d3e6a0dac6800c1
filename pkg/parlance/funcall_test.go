package parlance

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *Logger {
	return NewLogger(&LogConfig{Level: ErrorLevel, Output: io.Discard})
}

func TestJSONComplete(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"empty", "", false},
		{"flat object", `{"a":1}`, true},
		{"nested object", `{"a":{"b":[1,2]}}`, true},
		{"unterminated object", `{"a":1`, false},
		{"unterminated string", `{"a":"hel`, false},
		{"brace inside string", `{"code":"if x { return }"}`, true},
		{"escaped quote", `{"a":"she said \"hi\""}`, true},
		{"trailing garbage close", `{"a":1}}`, false},
		{"array value", `{"items":[1,2,3]}`, true},
		{"whitespace only", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, jsonComplete(tt.input))
		})
	}
}

func TestBalanceBraces(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already balanced", `{"a":1}`, `{"a":1}`},
		{"missing close", `{"a":1`, `{"a":1}`},
		{"nested missing", `{"a":{"b":[1`, `{"a":{"b":[1]}}`},
		{"open string", `{"a":"hel`, `{"a":"hel"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, balanceBraces(tt.input))
		})
	}
}

func TestExtractFencedCode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"go fence", "Here you go:\n```go\nfmt.Println(1)\n```", "fmt.Println(1)"},
		{"bare fence", "```\nx = 1\n```", "x = 1"},
		{"no fence", "just prose", ""},
		{"two fences takes first", "```py\na\n```\n```py\nb\n```", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractFencedCode(tt.input))
		})
	}
}

func TestAssemblerCompleteImmediate(t *testing.T) {
	var mu sync.Mutex
	var results []FunctionCallResult
	a := newFuncCallAssembler(time.Hour, newTestLogger(), func(r FunctionCallResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	a.RecordName("call_1", "write_code")
	a.AppendDelta("call_1", "", `{"explanation":"adds numbers",`)
	a.AppendDelta("call_1", "", `"code":"a + b"}`)
	a.Complete(context.Background(), "call_1", "")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, "call_1", results[0].CallID)
	assert.Equal(t, "write_code", results[0].Name)
	assert.Equal(t, "adds numbers", results[0].Explanation)
	assert.Equal(t, "a + b", results[0].Code)
}

func TestAssemblerEmptyBufferDropped(t *testing.T) {
	called := false
	a := newFuncCallAssembler(time.Hour, newTestLogger(), func(FunctionCallResult) { called = true })

	a.RecordName("call_1", "noop")
	a.Complete(context.Background(), "call_1", "noop")
	a.Wait()

	assert.False(t, called)
	assert.Empty(t, a.calls)
}

func TestAssemblerRetryRepairsTruncatedJSON(t *testing.T) {
	results := make(chan FunctionCallResult, 1)
	a := newFuncCallAssembler(20*time.Millisecond, newTestLogger(), func(r FunctionCallResult) {
		results <- r
	})

	a.AppendDelta("call_1", "write_code", `{"explanation":"half done","code":"x := 1`)
	a.Complete(context.Background(), "call_1", "")

	select {
	case r := <-results:
		assert.Equal(t, "write_code", r.Name)
		assert.Equal(t, "half done", r.Explanation)
		assert.Equal(t, "x := 1", r.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for repaired result")
	}
	a.Wait()
}

func TestAssemblerRetryCancelledByContext(t *testing.T) {
	called := make(chan struct{}, 1)
	a := newFuncCallAssembler(50*time.Millisecond, newTestLogger(), func(FunctionCallResult) {
		called <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.AppendDelta("call_1", "fn", `{"truncated`)
	a.Complete(ctx, "call_1", "")
	cancel()
	a.Wait()

	select {
	case <-called:
		t.Fatal("retry should not fire after cancellation")
	default:
	}
}

func TestAssemblerFlushPending(t *testing.T) {
	results := make(chan FunctionCallResult, 1)
	a := newFuncCallAssembler(time.Hour, newTestLogger(), func(r FunctionCallResult) {
		results <- r
	})

	a.AppendDelta("call_1", "fn", `{"explanation":"waiting`)
	a.Complete(context.Background(), "call_1", "")
	a.FlushPending()

	select {
	case r := <-results:
		assert.Equal(t, "fn", r.Name)
		assert.Equal(t, "waiting", r.Explanation)
	case <-time.After(time.Second):
		t.Fatal("flush did not resolve the pending call")
	}
}

func TestAssemblerCodeFromFencedExplanation(t *testing.T) {
	results := make(chan FunctionCallResult, 1)
	a := newFuncCallAssembler(time.Hour, newTestLogger(), func(r FunctionCallResult) {
		results <- r
	})

	a.AppendDelta("call_1", "fn", `{"explanation":"Use this:\n`+"```go\\nreturn nil\\n```"+`"}`)
	a.Complete(context.Background(), "call_1", "")

	select {
	case r := <-results:
		assert.Equal(t, "return nil", r.Code)
	case <-time.After(time.Second):
		t.Fatal("no result")
	}
}

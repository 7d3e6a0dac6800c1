package parlance

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

var fencedCodeRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n?(.*?)```")

type funcCall struct {
	name    string
	args    strings.Builder
	pending bool
}

// funcCallAssembler accumulates streamed function-call argument
// fragments per call id and resolves them into FunctionCallResults.
// Incomplete JSON at done-time is retried once after a short delay and
// then force-repaired; the per-call buffer is removed on every terminal
// path exactly once.
type funcCallAssembler struct {
	mu         sync.Mutex
	calls      map[string]*funcCall
	retryDelay time.Duration
	logger     *Logger

	onResult func(FunctionCallResult)

	wg sync.WaitGroup
}

func newFuncCallAssembler(retryDelay time.Duration, logger *Logger, onResult func(FunctionCallResult)) *funcCallAssembler {
	return &funcCallAssembler{
		calls:      make(map[string]*funcCall),
		retryDelay: retryDelay,
		logger:     logger.WithComponent("funcall"),
		onResult:   onResult,
	}
}

// RecordName keeps the function name announced ahead of the argument
// stream so a done event without a name can still be resolved.
func (a *funcCallAssembler) RecordName(callID, name string) {
	if callID == "" || name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.call(callID).name = name
}

// AppendDelta appends an argument fragment in arrival order.
func (a *funcCallAssembler) AppendDelta(callID, name, delta string) {
	if callID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.call(callID)
	if name != "" {
		c.name = name
	}
	c.args.WriteString(delta)
}

// Complete handles the done event for a call id. If the accumulated JSON
// is incomplete the call is marked pending and re-checked after the retry
// delay, with a forced repair as the last resort.
func (a *funcCallAssembler) Complete(ctx context.Context, callID, name string) {
	a.mu.Lock()
	c, ok := a.calls[callID]
	if !ok {
		a.mu.Unlock()
		return
	}
	if name == "" {
		name = c.name
	}
	if c.args.Len() == 0 {
		delete(a.calls, callID)
		a.mu.Unlock()
		return
	}
	raw := c.args.String()
	if jsonComplete(raw) {
		delete(a.calls, callID)
		a.mu.Unlock()
		a.finalize(callID, name, raw, false)
		return
	}
	c.pending = true
	a.mu.Unlock()

	a.logger.WithField("call_id", callID).Debug("function call arguments incomplete, scheduling retry")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.retryDelay):
		}
		a.retry(callID, name)
	}()
}

func (a *funcCallAssembler) retry(callID, name string) {
	a.mu.Lock()
	c, ok := a.calls[callID]
	if !ok {
		a.mu.Unlock()
		return
	}
	if name == "" {
		name = c.name
	}
	raw := c.args.String()
	delete(a.calls, callID)
	a.mu.Unlock()

	a.finalize(callID, name, raw, !jsonComplete(raw))
}

// FlushPending resolves every assembly still waiting on a retry. Called
// when a response completes so no call outlives its turn.
func (a *funcCallAssembler) FlushPending() {
	a.mu.Lock()
	type flushed struct {
		id, name, raw string
	}
	var out []flushed
	for id, c := range a.calls {
		if c.pending {
			out = append(out, flushed{id, c.name, c.args.String()})
			delete(a.calls, id)
		}
	}
	a.mu.Unlock()

	for _, f := range out {
		a.finalize(f.id, f.name, f.raw, !jsonComplete(f.raw))
	}
}

// Wait blocks until all retry tasks have finished. Used during shutdown.
func (a *funcCallAssembler) Wait() {
	a.wg.Wait()
}

func (a *funcCallAssembler) finalize(callID, name, raw string, repair bool) {
	if repair {
		raw = repairJSON(raw)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		repaired := repairJSON(raw)
		if err2 := json.Unmarshal([]byte(repaired), &parsed); err2 != nil {
			a.logger.WithError(err).WithField("call_id", callID).Warn("dropping unparseable function call arguments")
			return
		}
		raw = repaired
	}

	result := FunctionCallResult{
		CallID:       callID,
		Name:         name,
		RawArguments: raw,
	}
	if v, ok := parsed["explanation"].(string); ok {
		result.Explanation = v
	}
	if v, ok := parsed["code"].(string); ok && v != "" {
		result.Code = v
	} else {
		result.Code = extractFencedCode(result.Explanation)
	}

	if a.onResult != nil {
		a.onResult(result)
	}
}

func (a *funcCallAssembler) call(callID string) *funcCall {
	c, ok := a.calls[callID]
	if !ok {
		c = &funcCall{}
		a.calls[callID] = c
	}
	return c
}

// jsonComplete reports whether s is a structurally complete JSON value:
// braces and brackets balance outside string literals, with escape
// sequences accounted for.
func jsonComplete(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	depth := 0
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{' || r == '[':
			depth++
		case r == '}' || r == ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && !inString
}

// repairJSON is the best-effort fallback for arguments that never became
// complete: run the repair library, then pad unbalanced braces if that
// still was not enough.
func repairJSON(s string) string {
	if fixed, err := jsonrepair.JSONRepair(s); err == nil && jsonComplete(fixed) {
		return fixed
	}
	return balanceBraces(s)
}

// balanceBraces closes whatever is still open at the end of the input.
func balanceBraces(s string) string {
	var stack []rune
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			stack = append(stack, '}')
		case r == '[':
			stack = append(stack, ']')
		case r == '}' || r == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteRune(stack[i])
	}
	return b.String()
}

// extractFencedCode pulls the first fenced code block out of free text.
func extractFencedCode(text string) string {
	m := fencedCodeRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

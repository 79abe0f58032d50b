package thread

import "github.com/skosovsky/toolthread"

// InterruptedOutput is the output of results synthesized for unanswered tool calls.
const InterruptedOutput = "Execution interrupted. Session was stopped."

// InterruptedContent is the tool message content of a synthesized result.
func InterruptedContent() string {
	return toolthread.ToolResult{Success: false, Output: InterruptedOutput}.String()
}

// RepairToolCalls restores tool call completeness for the most recent assistant
// message that carries tool calls. The tool messages directly following it are
// rebuilt in request order: existing answers are kept (matched by call id), and every
// unanswered call gets a synthesized failure result. Tool messages that answer no
// request stay at the end of the block. It returns the repaired log and the number of
// synthesized results; with nothing to repair msgs is returned unchanged.
func RepairToolCalls(msgs []Message) ([]Message, int) {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant && len(msgs[i].ToolCalls) > 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return msgs, 0
	}
	end := idx + 1
	for end < len(msgs) && msgs[end].Role == RoleTool {
		end++
	}
	answers := msgs[idx+1 : end]
	used := make([]bool, len(answers))

	calls := msgs[idx].ToolCalls
	block := make([]Message, 0, len(calls)+len(answers))
	synthesized := 0
	for _, call := range calls {
		found := -1
		for j, ans := range answers {
			if !used[j] && ans.ToolCallID == call.ID {
				found = j
				break
			}
		}
		if found >= 0 {
			used[found] = true
			block = append(block, answers[found])
			continue
		}
		block = append(block, ToolMessage(call.ID, call.Function.Name, InterruptedContent()))
		synthesized++
	}
	if synthesized == 0 {
		return msgs, 0
	}
	for j, ans := range answers {
		if !used[j] {
			block = append(block, ans)
		}
	}

	out := make([]Message, 0, len(msgs)+synthesized)
	out = append(out, msgs[:idx+1]...)
	out = append(out, block...)
	out = append(out, msgs[end:]...)
	return out, synthesized
}

package model

// callKey identifies a call/response pair. Backends that omit call IDs
// fall back to pairing by function name.
func callKey(id, name string) string {
	if id != "" {
		return "id:" + id
	}
	return "name:" + name
}

// SplitsPair reports whether cutting history at idx would leave a
// function call in history[:idx] whose response lives in history[idx:].
func SplitsPair(history []Message, idx int) bool {
	if idx <= 0 || idx >= len(history) {
		return false
	}

	open := make(map[string]int)
	for _, msg := range history[:idx] {
		for _, p := range msg.Parts {
			switch {
			case p.FunctionCall != nil:
				open[callKey(p.FunctionCall.ID, p.FunctionCall.Name)]++
			case p.FunctionResponse != nil:
				key := callKey(p.FunctionResponse.ID, p.FunctionResponse.Name)
				if open[key] > 0 {
					open[key]--
				}
			}
		}
	}

	for _, msg := range history[idx:] {
		for _, p := range msg.Parts {
			if p.FunctionResponse == nil {
				continue
			}
			if open[callKey(p.FunctionResponse.ID, p.FunctionResponse.Name)] > 0 {
				return true
			}
		}
	}
	return false
}

// PendingCalls returns the function calls in history that have no later
// matching response, in the order they were issued.
func PendingCalls(history []Message) []FunctionCall {
	var pending []FunctionCall
	for _, msg := range history {
		for _, p := range msg.Parts {
			switch {
			case p.FunctionCall != nil:
				pending = append(pending, *p.FunctionCall)
			case p.FunctionResponse != nil:
				key := callKey(p.FunctionResponse.ID, p.FunctionResponse.Name)
				for i, c := range pending {
					if callKey(c.ID, c.Name) == key {
						pending = append(pending[:i], pending[i+1:]...)
						break
					}
				}
			}
		}
	}
	return pending
}

package scheduler

import "encoding/json"

// decodeInto round-trips a generic map through JSON to populate a typed
// struct, used to pull RunState back out of the freeform snapshot map the
// runtime.Context works with.
func decodeInto(m map[string]any, out any) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, out)
}

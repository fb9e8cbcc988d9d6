// Package diff computes the drift between two forensic snapshots of a host.
package diff

import (
	"encoding/json"
	"sort"
)

// Delta holds the elements of a list field that appeared or disappeared.
type Delta struct {
	Added   []any `json:"added"`
	Removed []any `json:"removed"`
}

// KeyDelta lists users whose SSH key was added, removed or replaced.
type KeyDelta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Result is sparse: a field is present only when something changed.
type Result struct {
	Fields  map[string]Delta
	SSHKeys *KeyDelta
}

func (r Result) Empty() bool {
	return len(r.Fields) == 0 && r.SSHKeys == nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for name, delta := range r.Fields {
		out[name] = delta
	}
	if r.SSHKeys != nil {
		out["ssh_keys"] = r.SSHKeys
	}
	return json.Marshal(out)
}

// Compare diffs two documents. It is pure and safe for concurrent use.
// Element order inside added/removed is sorted by canonical form but carries
// no meaning.
func Compare(previous, current Document) Result {
	res := Result{Fields: make(map[string]Delta)}

	for _, f := range fields {
		prev := f.list(&previous).set()
		curr := f.list(&current).set()

		added := subtract(curr, prev)
		removed := subtract(prev, curr)
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		res.Fields[f.name] = Delta{
			Added:   decodeAll(added),
			Removed: decodeAll(removed),
		}
	}

	if keys := compareKeys(previous.SSHKeys, current.SSHKeys); keys != nil {
		res.SSHKeys = keys
	}
	return res
}

// Bytes parses both snapshots and compares them.
func Bytes(previous, current []byte) Result {
	return Compare(Parse(previous), Parse(current))
}

func compareKeys(previous, current SSHKeys) *KeyDelta {
	delta := KeyDelta{
		Added:   make([]string, 0),
		Removed: make([]string, 0),
		Changed: make([]string, 0),
	}

	for user, key := range current {
		old, ok := previous[user]
		switch {
		case !ok:
			delta.Added = append(delta.Added, user)
		case old != key:
			delta.Changed = append(delta.Changed, user)
		}
	}
	for user := range previous {
		if _, ok := current[user]; !ok {
			delta.Removed = append(delta.Removed, user)
		}
	}

	if len(delta.Added)+len(delta.Removed)+len(delta.Changed) == 0 {
		return nil
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Removed)
	sort.Strings(delta.Changed)
	return &delta
}

func subtract(left, right map[string]struct{}) []string {
	out := make([]string, 0)
	for key := range left {
		if _, ok := right[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func decodeAll(items []string) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, decode(item))
	}
	return out
}

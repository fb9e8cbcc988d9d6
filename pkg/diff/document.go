package diff

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/gowebpki/jcs"
)

// Document is the typed view of a forensic snapshot. Only the fields that take
// part in differencing are modelled; anything else in the report is ignored.
type Document struct {
	VerifiedServices   List
	AllServices        List
	Packages           List
	UpgradablePackages List
	Docker             List
	ListeningPorts     List
	FirewallRules      List
	LoginHistory       List
	Filesystem         List
	ProcessList        List
	SystemdTimers      List
	SSHKeys            SSHKeys
}

const sshKeysField = "ssh_keys"

// Parse never fails. Malformed input, or anything that is not a JSON object,
// gives an empty document. Field names are matched exactly.
func Parse(data []byte) Document {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil || record == nil {
		return Document{}
	}

	var doc Document
	for _, f := range fields {
		if raw, ok := record[f.name]; ok {
			_ = f.ref(&doc).UnmarshalJSON(raw)
		}
	}
	if raw, ok := record[sshKeysField]; ok {
		_ = doc.SSHKeys.UnmarshalJSON(raw)
	}
	return doc
}

type field struct {
	name string
	ref  func(*Document) *List
}

func (f field) list(d *Document) List {
	return *f.ref(d)
}

// Tracked list fields, in output order.
var fields = []field{
	{"verified_services", func(d *Document) *List { return &d.VerifiedServices }},
	{"all_services", func(d *Document) *List { return &d.AllServices }},
	{"packages", func(d *Document) *List { return &d.Packages }},
	{"upgradable_packages", func(d *Document) *List { return &d.UpgradablePackages }},
	{"docker", func(d *Document) *List { return &d.Docker }},
	{"listening_ports", func(d *Document) *List { return &d.ListeningPorts }},
	{"firewall_rules", func(d *Document) *List { return &d.FirewallRules }},
	{"login_history", func(d *Document) *List { return &d.LoginHistory }},
	{"filesystem", func(d *Document) *List { return &d.Filesystem }},
	{"process_list", func(d *Document) *List { return &d.ProcessList }},
	{"systemd_timers", func(d *Document) *List { return &d.SystemdTimers }},
}

// Fields returns the names of the tracked list fields.
func Fields() []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.name)
	}
	return names
}

// List holds the raw elements of a list-valued field. Collectors write
// placeholders such as "Skipped" or "N/A" when a probe does not apply; those,
// and any other non-array value, decode to an empty list.
type List []json.RawMessage

func (l *List) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		*l = nil
		return nil
	}
	*l = items
	return nil
}

// set indexes the elements by canonical form, collapsing duplicates.
func (l List) set() map[string]struct{} {
	s := make(map[string]struct{}, len(l))
	for _, item := range l {
		s[canonical(item)] = struct{}{}
	}
	return s
}

// SSHKeys maps a user to the canonical form of its key. Entries that are not
// objects, or lack a string user or a key, are dropped. A later entry for the
// same user wins.
type SSHKeys map[string]string

func (k *SSHKeys) UnmarshalJSON(data []byte) error {
	keys := make(SSHKeys)
	*k = keys

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}

	for _, item := range items {
		var record map[string]json.RawMessage
		if err := json.Unmarshal(item, &record); err != nil || record == nil {
			continue
		}

		var user string
		if err := json.Unmarshal(record["user"], &user); err != nil {
			continue
		}
		key, ok := record["key"]
		if !ok {
			continue
		}
		keys[user] = canonical(key)
	}
	return nil
}

// canonical returns the RFC 8785 form of a JSON value so that structurally
// equal values compare equal regardless of key order or number formatting.
// Values holding integers that a float64 cannot carry exactly keep their
// digits instead, with object keys sorted.
func canonical(raw json.RawMessage) string {
	if exact, ok := exactForm(raw); ok {
		return exact
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return string(out)
}

func exactForm(raw json.RawMessage) (string, bool) {
	v, err := decodeNumbers(raw)
	if err != nil || !hasWideInteger(v) {
		return "", false
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// hasWideInteger reports whether v holds an integer literal beyond 2^53.
func hasWideInteger(v any) bool {
	switch t := v.(type) {
	case json.Number:
		s := t.String()
		if strings.ContainsAny(s, ".eE") {
			return false
		}
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return false
		}
		_, acc := new(big.Float).SetInt(i).Float64()
		return acc != big.Exact
	case []any:
		for _, e := range t {
			if hasWideInteger(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range t {
			if hasWideInteger(e) {
				return true
			}
		}
	}
	return false
}

func decodeNumbers(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode turns a canonical element back into a value. Numbers keep their
// literal text.
func decode(c string) any {
	v, err := decodeNumbers([]byte(c))
	if err != nil {
		return c
	}
	return v
}

package ext

import (
	"sort"
	"strings"
)

// Info identifies one locally available extension.
type Info struct {
	Key     string `json:"key"`
	Version string `json:"version"`
}

func (i Info) String() string { return i.Key + "@" + i.Version }

// NegotiationError reports an extension mismatch. Its message carries
// the full diff: every required entry and every available entry, so the
// user can see exactly what differs. Sessions never retry after it.
type NegotiationError struct {
	Required  []Info
	Available []Info
}

func (e *NegotiationError) Error() string {
	var b strings.Builder
	b.WriteString("extension mismatch\nrequired:\n")
	writeInfos(&b, e.Required)
	b.WriteString("available:\n")
	writeInfos(&b, e.Available)
	return strings.TrimRight(b.String(), "\n")
}

func writeInfos(b *strings.Builder, list []Info) {
	if len(list) == 0 {
		b.WriteString("  none\n")
		return
	}
	for _, it := range list {
		b.WriteString("  ")
		b.WriteString(it.String())
		b.WriteString("\n")
	}
}

// Negotiate passes iff every required key is present in available with
// an exactly matching version. There is no range matching. A nil or
// empty requirement always passes.
func Negotiate(required map[string]string, available []Info) error {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]string, len(available))
	for _, a := range available {
		have[a.Key] = a.Version
	}
	for k, v := range required {
		if got, ok := have[k]; !ok || got != v {
			return &NegotiationError{Required: requiredInfos(required), Available: available}
		}
	}
	return nil
}

// requiredInfos flattens the requirement map with sorted keys so the
// diagnostic is deterministic.
func requiredInfos(required map[string]string) []Info {
	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Info, 0, len(keys))
	for _, k := range keys {
		out = append(out, Info{Key: k, Version: required[k]})
	}
	return out
}

// Package secret carries opaque credentials from the process configuration
// to executors. The orchestrator core never inspects the values and every
// textual form of a Bag is redacted.
package secret

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

const redacted = "[redacted]"

// Bag is an immutable set of named secret values.
type Bag struct {
	values map[string]string
}

// NewBag copies values into a new Bag.
func NewBag(values map[string]string) Bag {
	b := Bag{values: make(map[string]string, len(values))}
	for k, v := range values {
		b.values[k] = v
	}
	return b
}

// Lookup returns the plaintext value of a secret.
func (b Bag) Lookup(name string) (string, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Names returns the secret names, sorted.
func (b Bag) Names() []string {
	names := make([]string, 0, len(b.values))
	for k := range b.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of secrets in the bag.
func (b Bag) Len() int { return len(b.values) }

// Subset returns a bag holding only the named secrets. Names missing from b
// are reported so a stage asking for an undefined secret fails loudly.
func (b Bag) Subset(names []string) (Bag, error) {
	out := Bag{values: make(map[string]string, len(names))}
	var missing []string
	for _, name := range names {
		v, ok := b.values[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out.values[name] = v
	}
	if len(missing) > 0 {
		return Bag{}, fmt.Errorf("undefined secrets: %v", missing)
	}
	return out, nil
}

// Merge returns a new bag with other's values layered over b's.
func (b Bag) Merge(other Bag) Bag {
	out := NewBag(b.values)
	for k, v := range other.values {
		out.values[k] = v
	}
	return out
}

// FromEnviron collects the KEY=VALUE entries whose key starts with prefix,
// with the prefix stripped from the name. Empty names are ignored.
func FromEnviron(prefix string, environ []string) Bag {
	values := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if name := strings.TrimPrefix(key, prefix); name != "" {
			values[name] = value
		}
	}
	return Bag{values: values}
}

// String implements fmt.Stringer without revealing values.
func (b Bag) String() string {
	return fmt.Sprintf("secret.Bag%v", b.Names())
}

// GoString keeps %#v redacted as well.
func (b Bag) GoString() string { return b.String() }

// MarshalJSON emits the names with redacted values.
func (b Bag) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(b.values))
	for k := range b.values {
		out[k] = redacted
	}
	return json.Marshal(out)
}

// LogValue implements slog.LogValuer.
func (b Bag) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(b.values))
	for _, name := range b.Names() {
		attrs = append(attrs, slog.String(name, redacted))
	}
	return slog.GroupValue(attrs...)
}

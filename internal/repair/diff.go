package repair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/fatih/color"
)

// DiffKind classifies the result of comparing two JSON documents.
type DiffKind int

const (
	// DiffEqual means the documents are structurally identical.
	DiffEqual DiffKind = iota
	// DiffNullOnly means the documents differ only in keys that are null on one side
	// and absent on the other. It is not treated as divergence.
	DiffNullOnly
	// DiffDiverged means the documents differ in content.
	DiffDiverged
)

func (k DiffKind) String() string {
	switch k {
	case DiffEqual:
		return "equal"
	case DiffNullOnly:
		return "null_only"
	case DiffDiverged:
		return "diverged"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ChangeKind is the kind of a single difference.
type ChangeKind int

const (
	// Added is a path only the provider has.
	Added ChangeKind = iota
	// Removed is a path only the cache has.
	Removed
	// Modified is a path whose value differs.
	Modified
)

// Change is a difference at a path. Old is the cached value, New the provider value.
type Change struct {
	Path string
	Kind ChangeKind
	Old  any
	New  any
}

// Diff compares two JSON documents. Object key order is irrelevant; arrays are
// compared by position.
func Diff(cached, provider []byte) (DiffKind, []Change, error) {
	a, err := decode(cached)
	if err != nil {
		return DiffEqual, nil, fmt.Errorf("failed to decode cached block: %w", err)
	}
	b, err := decode(provider)
	if err != nil {
		return DiffEqual, nil, fmt.Errorf("failed to decode provider block: %w", err)
	}

	d := &differ{}
	d.walk("", a, b)

	switch {
	case len(d.changes) > 0:
		return DiffDiverged, d.changes, nil
	case d.nullOnly:
		return DiffNullOnly, nil, nil
	default:
		return DiffEqual, nil, nil
	}
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

type differ struct {
	changes  []Change
	nullOnly bool
}

func (d *differ) walk(path string, a, b any) {
	switch av := a.(type) {
	case map[string]any:
		if bv, ok := b.(map[string]any); ok {
			d.walkObject(path, av, bv)
			return
		}
	case []any:
		if bv, ok := b.([]any); ok {
			d.walkArray(path, av, bv)
			return
		}
	}

	if !reflect.DeepEqual(a, b) {
		d.changes = append(d.changes, Change{Path: path, Kind: Modified, Old: a, New: b})
	}
}

func (d *differ) walkObject(path string, a, b map[string]any) {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		av, inA := a[k]
		bv, inB := b[k]
		p := joinPath(path, k)

		switch {
		case inA && inB:
			d.walk(p, av, bv)
		case inA && av == nil, inB && bv == nil:
			d.nullOnly = true
		case inA:
			d.changes = append(d.changes, Change{Path: p, Kind: Removed, Old: av})
		default:
			d.changes = append(d.changes, Change{Path: p, Kind: Added, New: bv})
		}
	}
}

func (d *differ) walkArray(path string, a, b []any) {
	for i := range max(len(a), len(b)) {
		p := fmt.Sprintf("%s[%d]", path, i)
		switch {
		case i >= len(a):
			d.changes = append(d.changes, Change{Path: p, Kind: Added, New: b[i]})
		case i >= len(b):
			d.changes = append(d.changes, Change{Path: p, Kind: Removed, Old: a[i]})
		default:
			d.walk(p, a[i], b[i])
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// FormatChanges renders changes as one line per change, "-" for cached values and
// "+" for provider values.
func FormatChanges(changes []Change, colorize bool) string {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	if colorize {
		red.EnableColor()
		green.EnableColor()
	} else {
		red.DisableColor()
		green.DisableColor()
	}

	var sb strings.Builder
	for _, c := range changes {
		path := c.Path
		if path == "" {
			path = "."
		}
		switch c.Kind {
		case Added:
			sb.WriteString(green.Sprintf("+ %s: %s", path, render(c.New)))
		case Removed:
			sb.WriteString(red.Sprintf("- %s: %s", path, render(c.Old)))
		case Modified:
			sb.WriteString(red.Sprintf("- %s: %s", path, render(c.Old)))
			sb.WriteByte('\n')
			sb.WriteString(green.Sprintf("+ %s: %s", path, render(c.New)))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func render(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

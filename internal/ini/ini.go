// Package ini implements the sectioned key=value document model used for the
// game's GameUserSettings.ini / Game.ini files: an ordered, two-level mapping
// (section -> key -> value) that serializes back out in insertion order.
package ini

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/AngellusMortis/ark-operator/internal/arkerrors"
)

// sectionlessName is the reserved section name for a key-less leading region.
const sectionlessName = ""

// section is an ordered key=value mapping within one INI section.
type section struct {
	keys   []string
	values map[string]string
}

func newSection() *section {
	return &section{values: map[string]string{}}
}

func (s *section) set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Document is an ordered two-level INI mapping.
type Document struct {
	order    []string
	sections map[string]*section
}

// New returns an empty Document.
func New() *Document {
	return &Document{sections: map[string]*section{}}
}

func (d *Document) ensureSection(name string) *section {
	if d.sections == nil {
		d.sections = map[string]*section{}
	}
	s, ok := d.sections[name]
	if !ok {
		s = newSection()
		d.sections[name] = s
		d.order = append(d.order, name)
	}
	return s
}

// Set stores value under section/key, creating either as needed.
func (d *Document) Set(section, key, value string) {
	d.ensureSection(section).set(key, value)
}

// Get returns the value stored at section/key.
func (d *Document) Get(section, key string) (string, bool) {
	if d == nil || d.sections == nil {
		return "", false
	}
	s, ok := d.sections[section]
	if !ok {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Sections returns section names in insertion order.
func (d *Document) Sections() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Keys returns key names within section, in insertion order.
func (d *Document) Keys(section string) []string {
	if d == nil || d.sections == nil {
		return nil
	}
	s, ok := d.sections[section]
	if !ok {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Equal compares two documents as plain two-level mappings, ignoring order.
func Equal(a, b *Document) bool {
	am := flatten(a)
	bm := flatten(b)
	if len(am) != len(bm) {
		return false
	}
	for sec, keys := range am {
		other, ok := bm[sec]
		if !ok || len(keys) != len(other) {
			return false
		}
		for k, v := range keys {
			if other[k] != v {
				return false
			}
		}
	}
	return true
}

func flatten(d *Document) map[string]map[string]string {
	out := map[string]map[string]string{}
	if d == nil {
		return out
	}
	for name, s := range d.sections {
		m := map[string]string{}
		for k, v := range s.values {
			m[k] = v
		}
		out[name] = m
	}
	return out
}

// Parse reads an INI document from r. Lines are tokenized one at a time:
// blank lines are skipped, "[X]" opens section X, anything else is split on
// the first "=" (a missing "=" is a parse failure).
func Parse(r io.Reader) (*Document, error) {
	doc := New()
	current := sectionlessName

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			doc.ensureSection(current)
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, &arkerrors.ConfigParseError{Line: line}
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		doc.Set(current, key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseLines is a convenience wrapper around Parse for in-memory content,
// grounded on the source's read_config_from_lines helper.
func ParseLines(lines []string) (*Document, error) {
	return Parse(strings.NewReader(strings.Join(lines, "\n")))
}

// Write serializes doc to w: the sectionless region first (no header), then
// each remaining section separated by a blank line, each key as "k = v\n".
func Write(w io.Writer, doc *Document) error {
	if doc == nil {
		return nil
	}

	first := true
	writeSection := func(name string) error {
		s := doc.sections[name]
		if !first {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if name != sectionlessName {
			if _, err := fmt.Fprintf(w, "[%s]\n", name); err != nil {
				return err
			}
		}
		for _, k := range s.keys {
			if _, err := fmt.Fprintf(w, "%s = %s\n", k, s.values[k]); err != nil {
				return err
			}
		}
		first = false
		return nil
	}

	if _, ok := doc.sections[sectionlessName]; ok {
		if err := writeSection(sectionlessName); err != nil {
			return err
		}
	}
	for _, name := range doc.order {
		if name == sectionlessName {
			continue
		}
		if err := writeSection(name); err != nil {
			return err
		}
	}
	return nil
}

// String serializes doc and returns it as a string.
func String(doc *Document) string {
	var buf bytes.Buffer
	_ = Write(&buf, doc)
	return buf.String()
}

// Merge overlays child onto parent: for every section/key in child, the
// value replaces parent's. When warn is set and a key already existed in
// parent with a different value, the overwrite is logged. Either argument
// may be nil: a nil parent returns child, a nil child returns parent, and
// both nil returns nil.
func Merge(parent, child *Document, warn bool, logger *zap.Logger) *Document {
	if parent == nil {
		return child
	}
	if child == nil {
		return parent
	}

	out := clone(parent)
	for _, secName := range child.order {
		sec := child.sections[secName]
		for _, k := range sec.keys {
			v := sec.values[k]
			if warn && logger != nil {
				if existing, ok := out.Get(secName, k); ok && existing != v {
					logger.Warn("overwriting config key on merge",
						zap.String("section", secName),
						zap.String("key", k),
						zap.String("old", existing),
						zap.String("new", v),
					)
				}
			}
			out.Set(secName, k, v)
		}
	}
	return out
}

func clone(d *Document) *Document {
	out := New()
	for _, secName := range d.order {
		sec := d.sections[secName]
		for _, k := range sec.keys {
			out.Set(secName, k, sec.values[k])
		}
	}
	return out
}

package schema

import (
	"fmt"

	"github.com/davincible/toolrelay/internal/rxml"
)

// StringPropertyNames collects the names of every string-typed property
// declared directly on an object schema, the set duplicate detection and
// rxml.RemoveDuplicateStringSiblings operate over.
func StringPropertyNames(s *Schema) map[string]bool {
	out := make(map[string]bool)
	if s == nil {
		return out
	}
	for name, prop := range s.Properties {
		if prop.unwrap().EffectiveType() == "string" {
			out[name] = true
		}
	}
	return out
}

// DuplicateStringTag names a schema-declared string property that occurs
// more than once as a direct child of a tool call's argument element.
type DuplicateStringTag struct {
	Tag   string
	Count int
}

// DetectDuplicateStringTags scans el's direct children for schema-declared
// string-typed tags that occur more than once (spec 4.1/4.2: a model
// sometimes repeats a string-valued argument tag, usually because it
// restated/corrected itself mid-generation). Only direct children are
// scanned, not occurrences nested inside other string-typed siblings'
// byte-exact raw content, since those are opaque text to the schema, not
// additional argument tags.
func DetectDuplicateStringTags(s *Schema, el *rxml.Node) []DuplicateStringTag {
	stringTags := StringPropertyNames(s)
	if len(stringTags) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, c := range el.Elements() {
		if stringTags[c.TagName] {
			counts[c.TagName]++
		}
	}

	var dups []DuplicateStringTag
	for tag, n := range counts {
		if n > 1 {
			dups = append(dups, DuplicateStringTag{Tag: tag, Count: n})
		}
	}
	return dups
}

// ErrDuplicateStringTag is returned by ResolveDuplicates when fatal is
// requested and a duplicate is found.
type ErrDuplicateStringTag struct {
	Tag   string
	Count int
}

func (e *ErrDuplicateStringTag) Error() string {
	return fmt.Sprintf("schema: string argument tag %q repeated %d times", e.Tag, e.Count)
}

// ResolveDuplicates applies the spec's duplicate-string-tag policy to el
// in place: fatal reports the first duplicate as an error without
// modifying the tree; non-fatal keeps only the last occurrence of each
// repeated tag (rxml.RepairDuplicates), mirroring how a model's final
// restatement of a field wins.
func ResolveDuplicates(s *Schema, el *rxml.Node, fatal bool, maxReparses int) error {
	dups := DetectDuplicateStringTags(s, el)
	if len(dups) == 0 {
		return nil
	}
	if fatal {
		d := dups[0]
		return &ErrDuplicateStringTag{Tag: d.Tag, Count: d.Count}
	}
	rxml.RepairDuplicates(el, StringPropertyNames(s), maxReparses)
	return nil
}

// Package htmlsandwich splits an optional template file into the three
// pieces described in §6: a prefix, a middle, and a suffix, divided by
// two literal markers. When a template is configured the job engine
// emits prefix, then a meta description, then middle, then the JSON
// body, then suffix; otherwise it emits pure JSON.
package htmlsandwich

import (
	"os"
	"strings"

	"golang.org/x/xerrors"
)

const (
	metaMarker = "<!-- libjsongit2:meta-description -->"
	jsonMarker = "<!-- libjsongit2:initial-json -->"
)

// Sandwich holds the three literal spans of a parsed template.
type Sandwich struct {
	Prefix string
	Middle string
	Suffix string
}

// Load reads path and splits it at the two markers, in order. It is an
// error for either marker to be missing or for the meta marker to appear
// after the json marker.
func Load(path string) (*Sandwich, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read html sandwich template: %w", err)
	}
	return Parse(string(data))
}

// Parse splits raw template content at the two markers.
func Parse(content string) (*Sandwich, error) {
	i := strings.Index(content, metaMarker)
	if i < 0 {
		return nil, xerrors.Errorf("template missing %s", metaMarker)
	}
	rest := content[i+len(metaMarker):]
	j := strings.Index(rest, jsonMarker)
	if j < 0 {
		return nil, xerrors.Errorf("template missing %s", jsonMarker)
	}
	return &Sandwich{
		Prefix: content[:i],
		Middle: rest[:j],
		Suffix: rest[j+len(jsonMarker):],
	}, nil
}

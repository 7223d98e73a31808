package vault

import (
	"slices"
	"strings"
)

// Query narrows a snippet list.
// Empty fields do not filter. An empty string inside Folders selects unfiled snippets.
type Query struct {
	Text      string
	FolderID  string
	Languages []string
	Folders   []string
	Tags      []string
}

// Filter returns the snippets matching q, preserving their order
func Filter(snippets []Snippet, q Query) []Snippet {
	text := strings.ToLower(strings.TrimSpace(q.Text))

	out := make([]Snippet, 0, len(snippets))
	for _, s := range snippets {
		if q.FolderID != "" && s.FolderID != q.FolderID {
			continue
		}
		if text != "" && !matchesText(s, text) {
			continue
		}
		if len(q.Languages) > 0 && !slices.Contains(q.Languages, s.Language) {
			continue
		}
		if len(q.Folders) > 0 && !slices.Contains(q.Folders, s.FolderID) {
			continue
		}
		if !hasAllTags(s, q.Tags) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func matchesText(s Snippet, text string) bool {
	if strings.Contains(strings.ToLower(s.Name), text) ||
		strings.Contains(strings.ToLower(s.Code), text) ||
		strings.Contains(strings.ToLower(s.Language), text) ||
		strings.Contains(strings.ToLower(s.Description), text) {
		return true
	}
	for _, t := range s.Tags {
		if strings.Contains(strings.ToLower(t.Name), text) {
			return true
		}
	}
	return false
}

func hasAllTags(s Snippet, tags []string) bool {
	for _, name := range tags {
		if !s.HasTag(name) {
			return false
		}
	}
	return true
}

// Tags collects the distinct tags of the given snippets in first-seen order.
// When a name appears with several colours the last one wins.
func Tags(snippets []Snippet) []Tag {
	index := map[string]int{}
	var out []Tag
	for _, s := range snippets {
		for _, t := range s.Tags {
			if i, ok := index[t.Name]; ok {
				out[i].Color = t.Color
				continue
			}
			index[t.Name] = len(out)
			out = append(out, t)
		}
	}
	return out
}

// CountByFolder counts snippets per folder id; unfiled snippets count under ""
func CountByFolder(snippets []Snippet) map[string]int {
	counts := make(map[string]int)
	for _, s := range snippets {
		counts[s.FolderID]++
	}
	return counts
}

package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample() []Snippet {
	return []Snippet{
		{ID: "1", FolderID: "algo", Name: "Binary Search", Code: "def bsearch(xs, x): ...", Language: "python",
			Tags: []Tag{{Name: "search", Color: "#f5a623"}, {Name: "interview", Color: "#ef4444"}}},
		{ID: "2", FolderID: "web", Name: "Debounce", Code: "function debounce(fn, ms) {}", Language: "javascript",
			Description: "Rate limit UI events", Tags: []Tag{{Name: "ui", Color: "#10b981"}}},
		{ID: "3", Name: "Top users", Code: "SELECT * FROM users ORDER BY score DESC", Language: "sql",
			Tags: []Tag{{Name: "interview", Color: "#3b82f6"}}},
	}
}

func ids(snippets []Snippet) []string {
	out := make([]string, 0, len(snippets))
	for _, s := range snippets {
		out = append(out, s.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "empty query keeps order", query: Query{}, want: []string{"1", "2", "3"}},
		{name: "name is case insensitive", query: Query{Text: "BINARY"}, want: []string{"1"}},
		{name: "code match", query: Query{Text: "order by"}, want: []string{"3"}},
		{name: "language match", query: Query{Text: "javascript"}, want: []string{"2"}},
		{name: "tag match", query: Query{Text: "interv"}, want: []string{"1", "3"}},
		{name: "description match", query: Query{Text: "rate limit"}, want: []string{"2"}},
		{name: "whitespace only text", query: Query{Text: "   "}, want: []string{"1", "2", "3"}},
		{name: "folder scope", query: Query{FolderID: "web"}, want: []string{"2"}},
		{name: "folder scope with text", query: Query{FolderID: "algo", Text: "select"}, want: []string{}},
		{name: "language facet", query: Query{Languages: []string{"sql", "python"}}, want: []string{"1", "3"}},
		{name: "unfiled facet", query: Query{Folders: []string{""}}, want: []string{"3"}},
		{name: "all tags required", query: Query{Tags: []string{"interview", "search"}}, want: []string{"1"}},
		{name: "unknown tag", query: Query{Tags: []string{"nope"}}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(sample(), tt.query)))
		})
	}
}

func TestTags(t *testing.T) {
	got := Tags(sample())
	assert.Equal(t, []Tag{
		{Name: "search", Color: "#f5a623"},
		{Name: "interview", Color: "#3b82f6"},
		{Name: "ui", Color: "#10b981"},
	}, got)
}

func TestCountByFolder(t *testing.T) {
	assert.Equal(t, map[string]int{"algo": 1, "web": 1, "": 1}, CountByFolder(sample()))
}

func TestSnippetValidate(t *testing.T) {
	assert.NoError(t, Snippet{Name: "x", Language: "python"}.Validate())
	assert.Error(t, Snippet{Name: " ", Language: "python"}.Validate())
	assert.Error(t, Snippet{Name: "x", Language: "cobol"}.Validate())
	assert.Error(t, Snippet{Name: "x", Language: "sql", Tags: []Tag{{Name: ""}}}.Validate())
	assert.Error(t, Folder{}.Validate())
}

func TestLookupLanguage(t *testing.T) {
	l, ok := LookupLanguage("cpp")
	assert.True(t, ok)
	assert.Equal(t, "C++", l.Label)

	_, ok = LookupLanguage("go")
	assert.False(t, ok)
}

package backend

import (
	"fmt"

	"SnippetVault/internal/config"
)

// Upstream describes an OpenAI-compatible chat-completion backend
type Upstream struct {
	Name     string
	BaseURL  string
	NeedsKey bool
}

var upstreams = map[string]Upstream{
	config.BackendOpenAI: {Name: config.BackendOpenAI, BaseURL: "https://api.openai.com/v1", NeedsKey: true},
	config.BackendGrok:   {Name: config.BackendGrok, BaseURL: "https://api.x.ai/v1", NeedsKey: true},
	config.BackendOllama: {Name: config.BackendOllama, BaseURL: "http://localhost:11434/v1"},
}

// LookupUpstream returns the upstream for a backend name; override replaces its base URL
func LookupUpstream(name, override string) (Upstream, error) {
	u, ok := upstreams[name]
	if !ok {
		return Upstream{}, fmt.Errorf("unknown backend: %s", name)
	}
	if override != "" {
		u.BaseURL = override
	}
	return u, nil
}

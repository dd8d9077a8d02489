// Package skills discovers and serves skill definitions: markdown
// documents with YAML frontmatter that extend the agent with
// specialized instructions. Skills are advertised by name and
// description in the system prompt; their bodies load on demand
// through the load_skill tool.
package skills

// Entry is a discovered skill with its metadata and content.
type Entry struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string `json:"name" yaml:"name"`

	// Description explains what the skill does and when to use it.
	Description string `json:"description" yaml:"description"`

	// Homepage is an optional URL to skill documentation.
	Homepage string `json:"homepage,omitempty" yaml:"homepage"`

	// Content is the markdown body (lazy loaded).
	Content string `json:"-"`

	// Path is the directory where the skill was discovered.
	Path string `json:"path"`
}

// Snapshot is a lightweight representation for prompts and listings.
type Snapshot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// ToSnapshot creates a lightweight snapshot.
func (e *Entry) ToSnapshot() Snapshot {
	return Snapshot{
		Name:        e.Name,
		Description: e.Description,
		Path:        e.Path,
	}
}

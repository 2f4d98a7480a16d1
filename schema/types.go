package schema

// EmbedID identifies a persisted code embed.
type EmbedID string

// DocumentID identifies a saved derivative document of an embed.
type DocumentID string

// UniqueTabID identifies a tab inside a single registry.
type UniqueTabID string

// CellID identifies a notebook cell.
type CellID string

// RunID identifies one sandbox process invocation.
type RunID string

// Slug is the short link name of an embed or notebook.
type Slug string

// User describes the viewer of a project.
type User struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Username    string `json:"username,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// Name returns the identity used in event context.
func (u User) Name() string {
	if u.IsAnonymous || u.Email == "" {
		return "anonymous"
	}
	return u.Email
}

// Location is the origin a project is served from, used for share links.
type Location struct {
	Protocol string
	Host     string
}

// DisplayName returns the name shown in the status bar.
func (u User) DisplayName() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Username
}

package server

import "github.com/mohammad-safakhou/newsflow/internal/plugin"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// PluginRequest represents a descriptor create/update payload.
type PluginRequest struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind"`
	Module  string            `json:"module"`
	Enabled bool              `json:"enabled"`
	Topics  []string          `json:"topics,omitempty"`
	Config  map[string]string `json:"config,omitempty"`
}

// Descriptor converts the payload to a registry descriptor.
func (r PluginRequest) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    r.Name,
		Kind:    plugin.Kind(r.Kind),
		Module:  r.Module,
		Enabled: r.Enabled,
		Topics:  r.Topics,
		Config:  r.Config,
	}
}

// PluginEnableRequest toggles a descriptor.
type PluginEnableRequest struct {
	Enabled bool `json:"enabled"`
}

// ExtensionSubmitRequest asks the agent to build a new source plugin.
type ExtensionSubmitRequest struct {
	SourceName  string   `json:"source_name"`
	Description string   `json:"description"`
	URL         string   `json:"url,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}

// TriggerRunRequest narrows a triggered run. An empty body runs everything.
type TriggerRunRequest struct {
	Sources []string `json:"sources,omitempty"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

package github

// Connection is the GitHub integration state shown to users. Token is never
// serialized, so persisting a Connection stores everything except the secret.
type Connection struct {
	URL       string   `json:"url"`
	Token     string   `json:"-"`
	Connected bool     `json:"connected"`
	Branch    string   `json:"branch"`
	Branches  []string `json:"branches,omitempty"`
}

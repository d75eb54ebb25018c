package models

// Source is one document that can be ingested and cited.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Summary string `json:"summary,omitempty"`
	Path    string `json:"-"`
}

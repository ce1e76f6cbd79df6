package model

// UserProfile is the read-only tax context used to enrich classification
// prompts. It is provided by an external profile service and never mutated
// by the pipeline.
type UserProfile struct {
	OwnerID       string `json:"ownerId"`
	Profession    string `json:"profession,omitempty"`
	IncomeBracket string `json:"incomeBracket,omitempty"`
	FilingStatus  string `json:"filingStatus,omitempty"`
	State         string `json:"state,omitempty"`
}

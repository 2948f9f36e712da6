package model

// ProcessResult summarizes what a single worker invocation accomplished.
// It maps directly onto the POST /process response body.
type ProcessResult struct {
	Success            bool     `json:"success"`
	Processed          int      `json:"processed"`
	Remaining          int      `json:"remaining"`
	CompaniesExtracted int      `json:"companiesExtracted"`
	Errors             []string `json:"errors,omitempty"`
	FollowUpTriggered  bool     `json:"followUpTriggered"`
	Message            string   `json:"message"`
}

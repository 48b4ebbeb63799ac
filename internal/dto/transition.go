package dto

// ProposeTransitionRequest opens a manual year transition. Empty years default
// to the current academic year and its successor.
type ProposeTransitionRequest struct {
	PreviousYear string `json:"previous_year"`
	NewYear      string `json:"new_year"`
	Comment      string `json:"comment"`
}

// RejectTransitionRequest closes a proposal without executing it.
type RejectTransitionRequest struct {
	Comment string `json:"comment"`
}

// ConfirmTransitionRequest carries the execution options and the typed token.
type ConfirmTransitionRequest struct {
	ConfirmationToken string `json:"confirmation_token" validate:"required"`
	ArchiveAlumni     bool   `json:"archive_alumni"`
	NotifyUsers       bool   `json:"notify_users"`
}

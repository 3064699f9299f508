package model

// User is a clinician account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Patient is a person sessions are recorded for.
type Patient struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	UserID   string  `json:"user_id"`
	Pronouns *string `json:"pronouns"`
}

// Template is a note template a session can be recorded against.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

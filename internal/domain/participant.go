package domain

// Participant represents a remote user's presence in the call room.
// No transport or lifecycle logic here.
type Participant struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username,omitempty"`
}

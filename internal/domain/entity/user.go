package entity

// Identity is what the auth provider vouches for. An empty UID means "not yet
// authenticated", which callers must keep distinct from a failed verification.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

func (i Identity) Authenticated() bool {
	return i.UID != ""
}

// User is the subset of the marketplace profile the chat core reads.
type User struct {
	ID          string `json:"id" firestore:"id"`
	Email       string `json:"email" firestore:"email"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	ActiveRole  Role   `json:"active_role" firestore:"activeRole"`
}

// Session carries the viewing user through a live view. One is built per
// connection or request; nothing about the current user lives in globals.
type Session struct {
	Identity
	Role Role
	// Visible is true while the conversation is foregrounded on the client.
	Visible bool
}

func (s Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return "User"
}

package session

import "time"

// UserView is the client-visible slice of the session user.
type UserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email,omitempty"`
	Name          string     `json:"name,omitempty"`
	Image         string     `json:"image,omitempty"`
	EmailVerified *time.Time `json:"emailVerified,omitempty"`
}

// View is what GET /auth/session returns. Provider tokens never appear here.
type View struct {
	User    UserView  `json:"user"`
	Expires time.Time `json:"expires"`
}

// ViewFrom derives the client view from a verified payload.
func ViewFrom(p *Payload, expires time.Time) View {
	return View{
		User: UserView{
			ID:            p.UserID,
			Email:         p.Email,
			Name:          p.Name,
			Image:         p.Picture,
			EmailVerified: p.EmailVerified,
		},
		Expires: expires.UTC(),
	}
}

package store

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	CreatedAt    int64  `json:"createdAt"`
}

type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Activity is a single logged workout. PhotoURL holds either an inline data URI or,
// when PhotoKey is set, the signed URL resolved for that object key at read time.
type Activity struct {
	ID              string  `json:"id"`
	OwnerID         string  `json:"ownerId"`
	Type            string  `json:"type"`
	Date            string  `json:"date"`
	DurationMinutes float64 `json:"duration"`
	DistanceKm      float64 `json:"distance"`
	PhotoURL        string  `json:"photoUrl,omitempty"`
	PhotoKey        string  `json:"photoKey,omitempty"`
	CreatedAt       int64   `json:"createdAt"`
}

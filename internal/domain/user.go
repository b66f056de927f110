package domain

import (
	"strings"
	"time"
)

// UserProfile is the user-data document. Height is stored in centimeters and
// Weight in kilograms. Workouts holds the ids of workouts owned by the user.
type UserProfile struct {
	ID               string    `bson:"_id" json:"id"`
	Email            string    `bson:"email" json:"email"`
	DisplayName      string    `bson:"displayName" json:"displayName"`
	DisplayNameLower string    `bson:"displayNameLower" json:"-"` // unique index
	FirstName        string    `bson:"firstName" json:"firstName"`
	LastName         string    `bson:"lastName" json:"lastName"`
	Height           string    `bson:"height" json:"height"`
	Weight           string    `bson:"weight" json:"weight"`
	PhotoURL         *string   `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
	Workouts         []string  `bson:"workouts" json:"workouts"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
}

// NormalizeDisplayName is the case-insensitive key used for uniqueness and lookup.
func NormalizeDisplayName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ProfileUpdate carries the profile fields a user may change. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Height    *string // centimeters
	Weight    *string // kilograms
	PhotoURL  *string
	// ClearPhotoURL removes the photo URL field; it wins over PhotoURL.
	ClearPhotoURL bool
}

// IsEmpty reports whether the update would change nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Height == nil && u.Weight == nil && u.PhotoURL == nil && !u.ClearPhotoURL
}

// Account is the credential record held by the auth provider.
type Account struct {
	ID           string    `bson:"_id" json:"id"`
	Email        string    `bson:"email" json:"email"` // unique
	PasswordHash string    `bson:"passwordHash" json:"-"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}

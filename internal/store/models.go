package store

import "time"

// User is an account allowed to read and edit scheme records.
type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

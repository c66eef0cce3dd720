// Package models defines server-side data models persisted in the database.
package models

import "time"

// User owns a private entity space. CurrentVersion is the user's sync
// watermark; LastEntityID is the last server ID handed out.
type User struct {
	ID             string
	UserName       string
	Salt           []byte
	Verifier       []byte
	CurrentVersion int64
	LastEntityID   int64
}

type RefreshToken struct {
	UserID  string
	Token   string
	Expires time.Time
}

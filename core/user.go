package core

import (
	"context"
	"time"
)

type (
	// User is a registered account. Subject is the stable identifier
	// carried in JWT claims and referenced by Document.Owner and
	// Document.Collaborators.
	User struct {
		Subject      string    `json:"subject"`
		Name         string    `json:"name"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}

	// UserStore defines the persistence layer for user accounts.
	UserStore interface {
		// CreateUser stores a new user. The caller sets Subject.
		CreateUser(ctx context.Context, user *User) error

		// FindUserBySubject retrieves a user by subject, or ErrNotFound.
		FindUserBySubject(ctx context.Context, subject string) (*User, error)

		// FindUserByEmail retrieves a user by email, or ErrNotFound.
		FindUserByEmail(ctx context.Context, email string) (*User, error)
	}
)

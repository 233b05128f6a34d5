// Package users holds the account records the auth API reads and writes.
package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

// User is an account keyed by its mobile number.
type User struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName"`
	MobileNumber string    `json:"mobileNumber"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store is the persistence boundary for accounts.
// Mobile numbers are unique; Create returns ErrExists on a duplicate.
type Store interface {
	FindByMobile(ctx context.Context, mobile string) (User, error)
	Create(ctx context.Context, u User) (User, error)
	List(ctx context.Context) ([]User, error)
}

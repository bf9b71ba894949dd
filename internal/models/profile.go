package models

import (
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Field limits for chat profiles.
const (
	MaxProfileNameLength     = 80
	MaxProfileCategoryLength = 60
	MaxProfileRoleLength     = 80
	MaxProfileContextLength  = 2000
	MaxScreenshotURLLength   = 2048
)

// Profile validation errors
var (
	ErrProfileNameRequired     = errors.New("name is required")
	ErrProfileCategoryRequired = errors.New("category is required")
	ErrProfileFieldTooLong     = errors.New("profile field too long")
	ErrInvalidScreenshotURL    = errors.New("screenshot_url must be an http(s) URL")
)

// Profile is a person the user messages with.
type Profile struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Name          string    `json:"name" db:"name"`
	Category      string    `json:"category" db:"category"`
	RoleTitle     string    `json:"role_title" db:"role_title"`
	Context       string    `json:"context" db:"context"`
	ScreenshotURL string    `json:"screenshot_url" db:"screenshot_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ProfileInput is the writable subset of a profile.
type ProfileInput struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	RoleTitle     string `json:"role_title"`
	Context       string `json:"context"`
	ScreenshotURL string `json:"screenshot_url"`
}

// Normalize trims every field in place.
func (in *ProfileInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	in.RoleTitle = strings.TrimSpace(in.RoleTitle)
	in.Context = strings.TrimSpace(in.Context)
	in.ScreenshotURL = strings.TrimSpace(in.ScreenshotURL)
}

// Validate checks required fields and limits. Call Normalize first.
func (in ProfileInput) Validate() error {
	if in.Name == "" {
		return ErrProfileNameRequired
	}
	if in.Category == "" {
		return ErrProfileCategoryRequired
	}
	if tooLong(in.Name, MaxProfileNameLength) ||
		tooLong(in.Category, MaxProfileCategoryLength) ||
		tooLong(in.RoleTitle, MaxProfileRoleLength) ||
		tooLong(in.Context, MaxProfileContextLength) ||
		tooLong(in.ScreenshotURL, MaxScreenshotURLLength) {
		return ErrProfileFieldTooLong
	}
	if in.ScreenshotURL != "" {
		u, err := url.Parse(in.ScreenshotURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidScreenshotURL
		}
	}
	return nil
}

// Apply copies the input onto p.
func (in ProfileInput) Apply(p *Profile) {
	p.Name = in.Name
	p.Category = in.Category
	p.RoleTitle = in.RoleTitle
	p.Context = in.Context
	p.ScreenshotURL = in.ScreenshotURL
}

func tooLong(s string, max int) bool {
	return utf8.RuneCountInString(s) > max
}

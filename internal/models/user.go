package models

import (
	"time"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// AdminUsername is the fixed user record the admin session is tracked under.
const AdminUsername = "admin"

type User struct {
	Username      string    `json:"-"`
	Password      string    `json:"password,omitempty"`
	Role          string    `json:"role"`
	TokenCount    int64     `json:"token_count"`
	TotalValue    int64     `json:"total_value"`
	BannedCount   int64     `json:"banned_count"`
	Online        bool      `json:"online"`
	LastSeen      time.Time `json:"last_seen"`
	LastLogin     time.Time `json:"last_login"`
	Created       time.Time `json:"created"`
	AddedBy       string    `json:"added_by,omitempty"`
	WA            string    `json:"wa,omitempty"`
	Rekening      string    `json:"rekening,omitempty"`
	TglLahir      string    `json:"tgl_lahir,omitempty"`
	TempatTinggal string    `json:"tempat_tinggal,omitempty"`
}

// InfoComplete reports whether all personal info fields are filled.
func (u *User) InfoComplete() bool {
	return u.WA != "" && u.Rekening != "" && u.TglLahir != "" && u.TempatTinggal != ""
}

type PersonalInfo struct {
	WA            string `json:"wa"`
	Rekening      string `json:"rekening"`
	TglLahir      string `json:"tgl_lahir"`
	TempatTinggal string `json:"tempat_tinggal"`
}

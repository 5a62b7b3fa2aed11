package model

import "gorm.io/gorm"

// User struct
type User struct {
	gorm.Model
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	Password    string `gorm:"not null" json:"-"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Role        string `json:"role"`

	Otp_enabled bool `gorm:"default:false;"`
	Otp_secret  string
}

// Profile is the public identity of a user as seen by other users.
type Profile struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

func (u *User) Profile() Profile {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Profile{ID: u.ID, Name: name, Avatar: u.AvatarURL}
}

package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"dm-service/messenger"
	"dm-service/middleware"
	"dm-service/model"
)

type User struct {
	db    *gorm.DB
	users messenger.Identity
}

func NewUser(db *gorm.DB, users messenger.Identity) *User {
	return &User{db: db, users: users}
}

func (u *User) Profile(c *fiber.Ctx) error {
	id, ok := middleware.CallerID(c)
	if !ok {
		return failure(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
	}

	userModel := new(model.User)
	if err := u.db.WithContext(c.UserContext()).Take(userModel, id).Error; err != nil {
		return internal(c, err)
	}

	return success(c, fiber.StatusOK, fiber.Map{
		"id":           userModel.ID,
		"created":      userModel.CreatedAt.Unix(),
		"username":     userModel.Username,
		"display_name": userModel.DisplayName,
		"avatar":       userModel.AvatarURL,
		"email":        userModel.Email,
		"role":         userModel.Role,
		"otp":          userModel.Otp_enabled,
	})
}

// PublicProfile is what any signed-in user may learn about another one
// before starting a conversation.
func (u *User) PublicProfile(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return failure(c, fiber.StatusNotFound, "User not found")
	}

	profiles, err := u.users.Profiles(c.UserContext(), []uint{uint(id)})
	if err != nil {
		return internal(c, err)
	}
	profile, ok := profiles[uint(id)]
	if !ok {
		return failure(c, fiber.StatusNotFound, "User not found")
	}
	return success(c, fiber.StatusOK, profile)
}

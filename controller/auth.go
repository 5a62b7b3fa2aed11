package controller

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"dm-service/api"
	"dm-service/config"
	"dm-service/database"
	"dm-service/middleware"
	"dm-service/model"
	"dm-service/utils"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

type AuthSignupInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type AuthRenewTokenInput struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthOtpSecretInput struct {
	Password string `json:"password"`
}

type AuthOtpTokenInput struct {
	Token string `json:"token"`
}

type AuthOtpDisableInput struct {
	Password string `json:"password"`
	Token    string `json:"token"`
}

// RefreshStore remembers the single live refresh token per user so a used
// one cannot be replayed.
type RefreshStore interface {
	Save(ctx context.Context, userID, token string) error
	Get(ctx context.Context, userID string) (string, error)
}

type RedisRefreshStore struct {
	rdb *redis.Client
}

func NewRedisRefreshStore(rdb *redis.Client) *RedisRefreshStore {
	return &RedisRefreshStore{rdb: rdb}
}

func (s *RedisRefreshStore) Save(ctx context.Context, userID, token string) error {
	return s.rdb.Set(ctx, userID, token, 0).Err()
}

func (s *RedisRefreshStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.rdb.Get(ctx, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

// RoleAssigner grants casbin roles; *casbin.Enforcer satisfies it.
type RoleAssigner interface {
	AddRoleForUser(user string, role string, domain ...string) (bool, error)
}

type Auth struct {
	db      *gorm.DB
	refresh RefreshStore
	roles   RoleAssigner
}

func NewAuth(db *gorm.DB, refresh RefreshStore, roles RoleAssigner) *Auth {
	return &Auth{db: db, refresh: refresh, roles: roles}
}

func (a *Auth) Signup(c *fiber.Ctx) error {
	input := new(AuthSignupInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.Email = strings.TrimSpace(input.Email)

	if !usernamePattern.MatchString(input.Username) {
		return failure(c, fiber.StatusBadRequest, "Username must be 3-32 lowercase letters, digits or underscores")
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return failure(c, fiber.StatusBadRequest, "Invalid email")
	}
	if len(input.Password) < 8 {
		return failure(c, fiber.StatusBadRequest, "Password must be at least 8 characters")
	}

	ctx := c.UserContext()
	var taken int64
	if err := a.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", input.Email).Count(&taken).Error; err != nil {
		return internal(c, err)
	}
	if taken > 0 {
		return failure(c, fiber.StatusBadRequest, "Email is already registered")
	}
	if err := a.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", input.Username).Count(&taken).Error; err != nil {
		return internal(c, err)
	}
	if taken > 0 {
		return failure(c, fiber.StatusBadRequest, "Username is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return internal(c, err)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      config.Config("OTP_ISSUER"),
		AccountName: input.Email,
	})
	if err != nil {
		return internal(c, err)
	}

	user := &model.User{
		Username:    input.Username,
		Email:       input.Email,
		Password:    string(hash),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Role:        database.RoleMember,
		Otp_secret:  key.Secret(),
	}
	if err := a.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return failure(c, fiber.StatusBadRequest, "Username or email is already registered")
		}
		return internal(c, err)
	}
	if _, err := a.roles.AddRoleForUser(userKey(user.ID), database.RoleMember); err != nil {
		return internal(c, err)
	}
	log.Info().Uint("user_id", user.ID).Msg("user signed up")

	return success(c, fiber.StatusCreated, user.Profile())
}

func (a *Auth) Signin(c *fiber.Ctx) error {
	input := new(api.SigninInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}

	user := new(model.User)
	login := strings.TrimSpace(input.Login)
	err := a.db.WithContext(c.UserContext()).
		Where("email = ? OR username = ?", login, strings.ToLower(login)).
		Take(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return failure(c, fiber.StatusUnauthorized, "Invalid login or password")
	}
	if err != nil {
		return internal(c, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid login or password")
	}

	return a.issue(c, userKey(user.ID), user.Otp_enabled)
}

func (a *Auth) TokenRenew(c *fiber.Ctx) error {
	input := new(AuthRenewTokenInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}

	claims, err := utils.CheckAndExtractTokenMetadata(input.RefreshToken, "JWT_REFRESH_KEY")
	if err != nil {
		return failure(c, fiber.StatusUnauthorized, "Unauthorized, your refresh token is invalid")
	}
	stored, err := a.refresh.Get(c.UserContext(), claims.Id)
	if err != nil {
		return internal(c, err)
	}
	if stored != input.RefreshToken {
		return failure(c, fiber.StatusUnauthorized, "Unauthorized, your refresh token was already used")
	}

	return a.issue(c, claims.Id, claims.Otp)
}

func (a *Auth) OtpSecret(c *fiber.Ctx) error {
	input := new(AuthOtpSecretInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}
	user, err := a.caller(c)
	if err != nil {
		return internal(c, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid password")
	}

	issuer := config.Config("OTP_ISSUER")
	return success(c, fiber.StatusOK, fiber.Map{
		"secret": user.Otp_secret,
		"url": fmt.Sprintf("otpauth://totp/%s:%s?algorithm=SHA1&digits=6&issuer=%s&period=30&secret=%s",
			issuer, user.Email, issuer, user.Otp_secret),
	})
}

func (a *Auth) OtpVerify(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}
	user, err := a.caller(c)
	if err != nil {
		return internal(c, err)
	}
	if user.Otp_enabled {
		return failure(c, fiber.StatusBadRequest, "Verification has already been performed earlier")
	}
	if !totp.Validate(input.Token, user.Otp_secret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	if err := a.db.WithContext(c.UserContext()).Model(user).Update("otp_enabled", true).Error; err != nil {
		return internal(c, err)
	}
	return success(c, fiber.StatusOK, nil)
}

// OtpValidate exchanges a pre-2FA token plus a valid code for full tokens.
func (a *Auth) OtpValidate(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}
	user, err := a.caller(c)
	if err != nil {
		return internal(c, err)
	}
	if !user.Otp_enabled {
		return failure(c, fiber.StatusBadRequest, "2FA has been disabled")
	}
	if !totp.Validate(input.Token, user.Otp_secret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	return a.issue(c, userKey(user.ID), false)
}

func (a *Auth) OtpDisable(c *fiber.Ctx) error {
	input := new(AuthOtpDisableInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Review your input")
	}
	user, err := a.caller(c)
	if err != nil {
		return internal(c, err)
	}
	if !user.Otp_enabled {
		return failure(c, fiber.StatusBadRequest, "2FA is not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid password")
	}
	if !totp.Validate(input.Token, user.Otp_secret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	if err := a.db.WithContext(c.UserContext()).Model(user).Update("otp_enabled", false).Error; err != nil {
		return internal(c, err)
	}
	return success(c, fiber.StatusOK, nil)
}

func (a *Auth) issue(c *fiber.Ctx, userID string, otp bool) error {
	tokens, err := utils.GenerateTokens(userID, otp)
	if err != nil {
		return internal(c, err)
	}
	if err := a.refresh.Save(c.UserContext(), userID, tokens.Refresh); err != nil {
		return internal(c, err)
	}
	return success(c, fiber.StatusOK, api.Tokens{
		Access:  tokens.Access,
		Refresh: tokens.Refresh,
		OTP:     otp,
	})
}

func (a *Auth) caller(c *fiber.Ctx) (*model.User, error) {
	id, ok := middleware.CallerID(c)
	if !ok {
		return nil, errors.New("missing caller")
	}
	user := new(model.User)
	if err := a.db.WithContext(c.UserContext()).Take(user, id).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func userKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

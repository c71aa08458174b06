package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/coinfolio/server/internal/db"
	"github.com/coinfolio/server/internal/ledger"
	"github.com/coinfolio/server/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters with an uppercase letter and a special character")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var emailRegexp = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const specialChars = "!@#$%^&*_-+=<>?"

// Service handles registration, login and token verification. It
// provisions the wallet and bank card through the ledger engine on
// both paths, healing accounts that predate provisioning.
type Service struct {
	db     *db.DB
	ledger *ledger.Engine
	secret []byte
}

// NewService creates an auth service.
func NewService(database *db.DB, engine *ledger.Engine, secret string) *Service {
	return &Service{db: database, ledger: engine, secret: []byte(secret)}
}

// Register creates a user with a hashed password, provisions their
// wallet and card, and returns a signed token.
func (s *Service) Register(ctx context.Context, email, username, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRegexp.MatchString(email) {
		return "", nil, ErrInvalidEmail
	}
	if username == "" {
		return "", nil, errors.New("username cannot be empty")
	}
	if !validPassword(password) {
		return "", nil, ErrWeakPassword
	}

	if _, err := s.db.GetUserByEmail(ctx, email); err == nil {
		return "", nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}
	hashStr := string(hash)

	user, err := s.db.CreateUser(ctx, email, username, &hashStr)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create user")
	}

	if err := s.ledger.Provision(ctx, user.ID); err != nil {
		return "", nil, errors.Wrap(err, "failed to provision account")
	}

	token, err := s.generateToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Login verifies credentials, re-provisions missing wallet or card
// rows, and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if user.PasswordHash == nil {
		// Federated identity with no password set.
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := s.ledger.Provision(ctx, user.ID); err != nil {
		return "", nil, errors.Wrap(err, "failed to provision account")
	}

	token, err := s.generateToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *Service) generateToken(user *models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"email":    user.Email,
		"username": user.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(s.secret)
}

// UserFromToken extracts the user id from a signed token.
func (s *Service) UserFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errors.New("invalid token")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, errors.New("invalid token claims")
	}
	return int(userID), nil
}

// validPassword requires at least 6 characters, one uppercase letter
// and one special character.
func validPassword(password string) bool {
	if len(password) < 6 {
		return false
	}
	var upper, special bool
	for _, r := range password {
		if unicode.IsUpper(r) {
			upper = true
		}
		if strings.ContainsRune(specialChars, r) {
			special = true
		}
	}
	return upper && special
}

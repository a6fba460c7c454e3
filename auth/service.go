package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals the password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// Service handles personnel authentication.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and person returned after a successful login.
type LoginResult struct {
	Token  string
	Person Person
}

// Claims is the verified identity extracted from a token.
type Claims struct {
	PersonID string
	FirmID   string
	Role     Role
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new personnel account under a firm.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Person, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" || req.FirmID == "" {
		return nil, fmt.Errorf("auth: email, full_name and firm_id are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleFieldAgent
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("auth: invalid role %q", role)
	}

	var teamID *string
	if req.TeamID != "" {
		teamID = &req.TeamID
	}

	person, err := s.repo.CreatePerson(ctx, CreatePersonParams{
		FirmID:       req.FirmID,
		TeamID:       teamID,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	return &person, nil
}

// Login authenticates a person and returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	person, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrPersonNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(person.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(person)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{Token: token, Person: person}, nil
}

// GetByID retrieves a person by id.
func (s *Service) GetByID(ctx context.Context, personID string) (*Person, error) {
	person, err := s.repo.GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// VerifyToken validates a token and returns the identity it carries.
func (s *Service) VerifyToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("auth: parse token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, fmt.Errorf("auth: invalid token")
	}

	personID, ok := mapClaims["person_id"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("auth: invalid person_id in token")
	}
	firmID, ok := mapClaims["firm_id"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("auth: invalid firm_id in token")
	}
	roleStr, ok := mapClaims["role"].(string)
	if !ok {
		return Claims{}, fmt.Errorf("auth: invalid role in token")
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Claims{}, fmt.Errorf("auth: invalid role %q in token", roleStr)
	}

	return Claims{PersonID: personID, FirmID: firmID, Role: role}, nil
}

func (s *Service) generateToken(person Person) (string, error) {
	claims := jwt.MapClaims{
		"person_id": person.ID,
		"firm_id":   person.FirmID,
		"role":      person.Role,
		"exp":       time.Now().Add(12 * time.Hour).Unix(),
		"iat":       time.Now().Unix(),
		"jti":       uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleDispatcher, RoleFieldAgent, RoleFirmAdmin:
		return true
	default:
		return false
	}
}

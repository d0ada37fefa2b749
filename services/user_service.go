package services

import (
	goerrors "errors"
	"fmt"
	"log/slog"

	"wediscuss/auth"
	"wediscuss/contract"
	"wediscuss/domain"
	"wediscuss/errors"
	"wediscuss/repositories"
)

// UserService is the account collaborator behind the router: credential
// checks, account lifecycle, and the ID-to-username map clients receive at
// login.
type UserService struct {
	userRepository repositories.IUserRepository
	tokens         *auth.TokenIssuer
	log            *slog.Logger
}

func NewUserService(repo repositories.IUserRepository, tokens *auth.TokenIssuer, log *slog.Logger) *UserService {
	return &UserService{userRepository: repo, tokens: tokens, log: log}
}

var _ contract.Accounts = (*UserService)(nil)

// SeedAdmin creates the administrator account on first boot. An existing
// username is not an error; the seed is idempotent across restarts.
func (s *UserService) SeedAdmin(username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing failed: %w", err)
	}
	_, err = s.userRepository.CreateUser(username, hashedPassword, true)
	if goerrors.Is(err, errors.ErrUserAlreadyExists) {
		return nil
	}
	return err
}

func (s *UserService) Authenticate(username, password string) (domain.User, string, error) {
	user, err := s.userRepository.GetUserByName(username)
	if err != nil {
		// Generic error to prevent user enumeration attacks
		return domain.User{}, "", errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return domain.User{}, "", errors.ErrInvalidCredentials
	}

	domainUser := toDomain(user)
	token, err := s.tokens.Generate(domainUser)
	if err != nil {
		return domain.User{}, "", errors.ErrTokenGeneration
	}
	return domainUser, token, nil
}

func (s *UserService) Create(username, password string) (domain.User, error) {
	valReq := auth.RegisterRequest{
		Username: username,
		Password: password,
	}

	// Validate business rules before any expensive cryptographic operation.
	if err := auth.ValidateRegister(valReq); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}

	// Hashing happens in the service layer so the repository never sees a
	// plain password.
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.userRepository.CreateUser(username, hashedPassword, false)
	if err != nil {
		return domain.User{}, err
	}

	s.log.Info("user created", "user_id", user.ID, "username", user.Username)
	return user, nil
}

func (s *UserService) Delete(userID domain.UserID) error {
	return s.userRepository.DeleteUser(userID)
}

func (s *UserService) ChangePassword(userID domain.UserID, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	hashedPassword, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing failed: %w", err)
	}
	return s.userRepository.UpdatePassword(userID, hashedPassword)
}

func (s *UserService) Resolve(userID domain.UserID) (domain.User, error) {
	user, err := s.userRepository.GetUserByID(userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomain(user), nil
}

func (s *UserService) All() (map[domain.UserID]string, error) {
	return s.userRepository.AllUsers()
}

func toDomain(user repositories.User) domain.User {
	return domain.User{
		ID:       domain.UserID(user.ID),
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}
}

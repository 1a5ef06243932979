package repository

import (
	"database/sql"
	"fmt"
	"time"

	"TextTune/model"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	CreateUser(user *model.User) error
	GetUserByID(id string) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
	FindOrCreateByEmail(email string) (*model.User, error)
}

// sqliteUserRepository implements UserRepository for SQLite.
type sqliteUserRepository struct {
	DB *sql.DB
}

// NewSQLiteUserRepository creates a new instance of sqliteUserRepository.
func NewSQLiteUserRepository(db *sql.DB) UserRepository {
	return &sqliteUserRepository{DB: db}
}

// CreateUser adds a new user, assigning an id when absent.
func (r *sqliteUserRepository) CreateUser(user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Plan == "" {
		user.Plan = "free"
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `INSERT INTO users (id, username, email, password_hash, plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.DB.Exec(query, user.ID, user.Username, user.Email, user.PasswordHash,
		user.Plan, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute CreateUser: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, password_hash, plan, created_at, updated_at`

func (r *sqliteUserRepository) getBy(where string, arg interface{}) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	row := r.DB.QueryRow(query, arg)

	user := &model.User{}
	var plan sql.NullString
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&plan, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.Plan = plan.String
	return user, nil
}

func (r *sqliteUserRepository) GetUserByID(id string) (*model.User, error) {
	return r.getBy("id = ?", id)
}

func (r *sqliteUserRepository) GetUserByUsername(username string) (*model.User, error) {
	return r.getBy("username = ?", username)
}

func (r *sqliteUserRepository) GetUserByEmail(email string) (*model.User, error) {
	return r.getBy("email = ?", email)
}

// FindOrCreateByEmail backs the dev login: an unknown email becomes a fresh
// account with no usable password.
func (r *sqliteUserRepository) FindOrCreateByEmail(email string) (*model.User, error) {
	user, err := r.GetUserByEmail(email)
	if err != nil || user != nil {
		return user, err
	}

	user = &model.User{
		Username:     email,
		Email:        email,
		PasswordHash: "", // 开发登录账号没有密码
	}
	if err := r.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

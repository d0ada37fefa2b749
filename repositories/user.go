package repositories

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"wediscuss/domain"
	"wediscuss/errors"
)

const userSeqKey = "user:seq"

type IUserRepository interface {
	CreateUser(username, passwordHash string, isAdmin bool) (domain.User, error)
	GetUserByName(username string) (User, error)
	GetUserByID(userID domain.UserID) (User, error)
	DeleteUser(userID domain.UserID) error
	UpdatePassword(userID domain.UserID, passwordHash string) error
	AllUsers() (map[domain.UserID]string, error)
}

// UserRepository stores accounts under "user:id:{id}" with a secondary
// "user:name:{username}" index pointing back at the ID. IDs come from a
// monotonic counter key, so they are never reused after deletion.
type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	IsAdmin      bool   `json:"is_admin"`
	CreatedAt    int64  `json:"created_at"`
}

func idKey(id int) []byte { return []byte(fmt.Sprintf("user:id:%d", id)) }

func nameKey(name string) []byte { return []byte("user:name:" + name) }

// CreateUser persists a new account; the username must be unused. The
// counter increment and both writes happen in one transaction, so a
// conflicting create leaves no partial state behind.
func (u *UserRepository) CreateUser(username, passwordHash string, isAdmin bool) (domain.User, error) {
	var created User

	err := u.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nameKey(username)); err == nil {
			return errors.ErrUserAlreadyExists
		}

		nextID := 1
		item, err := txn.Get([]byte(userSeqKey))
		switch {
		case err == nil:
			err = item.Value(func(val []byte) error {
				last, convErr := strconv.Atoi(string(val))
				if convErr != nil {
					return convErr
				}
				nextID = last + 1
				return nil
			})
			if err != nil {
				return err
			}
		case !goerrors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set([]byte(userSeqKey), []byte(strconv.Itoa(nextID))); err != nil {
			return err
		}

		created = User{
			ID:           nextID,
			Username:     username,
			PasswordHash: passwordHash,
			IsAdmin:      isAdmin,
			CreatedAt:    time.Now().Unix(),
		}
		data, err := json.Marshal(created)
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}
		if err := txn.Set(idKey(nextID), data); err != nil {
			return err
		}
		return txn.Set(nameKey(username), []byte(strconv.Itoa(nextID)))
	})
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(created), nil
}

func (u *UserRepository) GetUserByName(username string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nameKey(username))
		if err != nil {
			return err
		}
		var id int
		err = item.Value(func(val []byte) error {
			id, err = strconv.Atoi(string(val))
			return err
		})
		if err != nil {
			return err
		}
		return readUser(txn, id, &user)
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	return user, err
}

func (u *UserRepository) GetUserByID(userID domain.UserID) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		return readUser(txn, int(userID), &user)
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	return user, err
}

// DeleteUser removes the record and its username index. The counter key is
// untouched, so the deleted ID is never reissued.
func (u *UserRepository) DeleteUser(userID domain.UserID) error {
	err := u.db.Update(func(txn *badger.Txn) error {
		var user User
		if err := readUser(txn, int(userID), &user); err != nil {
			return err
		}
		if err := txn.Delete(nameKey(user.Username)); err != nil {
			return err
		}
		return txn.Delete(idKey(user.ID))
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrUserNotFound
	}
	return err
}

func (u *UserRepository) UpdatePassword(userID domain.UserID, passwordHash string) error {
	err := u.db.Update(func(txn *badger.Txn) error {
		var user User
		if err := readUser(txn, int(userID), &user); err != nil {
			return err
		}
		user.PasswordHash = passwordHash
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return txn.Set(idKey(user.ID), data)
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrUserNotFound
	}
	return err
}

// AllUsers returns the ID-to-username map clients receive at login.
func (u *UserRepository) AllUsers() (map[domain.UserID]string, error) {
	users := make(map[domain.UserID]string)
	err := u.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		prefix := []byte("user:id:")
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var user User
				if err := json.Unmarshal(val, &user); err != nil {
					return err
				}
				users[domain.UserID(user.ID)] = user.Username
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return users, err
}

func readUser(txn *badger.Txn, id int, out *User) error {
	item, err := txn.Get(idKey(id))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func toDomainUser(user User) domain.User {
	return domain.User{
		ID:        domain.UserID(user.ID),
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		CreatedAt: time.Unix(user.CreatedAt, 0).UTC(),
	}
}

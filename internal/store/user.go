package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v4"
)

type User struct {
	Id            int32  `json:"id"`
	Name          string `json:"name"`
	Surname       string `json:"surname"`
	SwitchingMode bool   `json:"switching_mode"`
}

type NewUser struct {
	Name    string `json:"name" validate:"required"`
	Surname string `json:"surname" validate:"required"`
}

func (u *NewUser) Trim() {
	u.Name = strings.TrimSpace(u.Name)
	u.Surname = strings.TrimSpace(u.Surname)
}

func (s *Store) CreateUser(ctx context.Context, nu *NewUser) (*User, error) {
	u := &User{Name: nu.Name, Surname: nu.Surname}
	err := s.db.QueryRow(ctx, `INSERT INTO users (name, surname) VALUES ($1, $2) RETURNING id`,
		nu.Name, nu.Surname).Scan(&u.Id)
	if err != nil {
		return nil, wrapPgError(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int32) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(ctx, `SELECT id, name, surname FROM users WHERE id = $1`,
		id).Scan(&u.Id, &u.Name, &u.Surname)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, surname FROM users ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*User, 0)
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.Id, &u.Name, &u.Surname); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id int32, nu *NewUser) (*User, error) {
	u := &User{Name: nu.Name, Surname: nu.Surname}
	err := s.db.QueryRow(ctx, `UPDATE users SET name = $2, surname = $3 WHERE id = $1 RETURNING id`,
		id, nu.Name, nu.Surname).Scan(&u.Id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapPgError(err)
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id int32) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAllUsers(ctx context.Context) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users`)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

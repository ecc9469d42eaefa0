package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
)

// Rows older than this are pruned on every insert batch.
const positionRetentionMillis = 24 * 60 * 60 * 1000

type Position struct {
	Id           int32   `json:"id"`
	UserId       int32   `json:"user_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Source       string  `json:"source"`
	BatteryLevel int32   `json:"battery_level"`
	SportMode    bool    `json:"sport_mode"`
	Time         int64   `json:"time"`
}

type NewPosition struct {
	UserId       int32   `json:"user_id" validate:"required"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Source       string  `json:"source"`
	BatteryLevel int32   `json:"battery_level"`
	SportMode    bool    `json:"sport_mode"`
	Time         int64   `json:"time"`
}

// Normalize fills the defaults a tracker is allowed to omit.
func (p *NewPosition) Normalize(nowMillis int64) {
	if p.Source == "" {
		p.Source = "GPS"
	}
	if p.Time == 0 {
		p.Time = nowMillis
	}
}

// CreatePositions inserts a batch for a single user, pruning rows older than
// the retention window first. It returns the newest inserted row, which is
// what gets broadcast and echoed back to the tracker.
func (s *Store) CreatePositions(ctx context.Context, batch []NewPosition) (*Position, error) {
	if len(batch) == 0 {
		return nil, errors.New("empty position batch")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var found int32
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1`, batch[0].UserId).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cutoff := s.nowMillis() - positionRetentionMillis
	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE time < $1`, cutoff); err != nil {
		return nil, err
	}

	newest := &Position{}
	for i := range batch {
		p := &batch[i]
		created := &Position{
			UserId:       p.UserId,
			Latitude:     p.Latitude,
			Longitude:    p.Longitude,
			Source:       p.Source,
			BatteryLevel: p.BatteryLevel,
			SportMode:    p.SportMode,
			Time:         p.Time,
		}
		err := tx.QueryRow(ctx, `INSERT INTO positions (user_id, latitude, longitude, source, battery_level, sport_mode, time)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			p.UserId, p.Latitude, p.Longitude, p.Source, p.BatteryLevel, p.SportMode, p.Time).Scan(&created.Id)
		if err != nil {
			return nil, wrapPgError(err)
		}
		if created.Id > newest.Id {
			newest = created
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return newest, nil
}

func (s *Store) GetPosition(ctx context.Context, id int32) (*Position, error) {
	p := &Position{}
	err := s.db.QueryRow(ctx, `SELECT id, user_id, latitude, longitude, source, battery_level, sport_mode, time
		FROM positions WHERE id = $1`, id).
		Scan(&p.Id, &p.UserId, &p.Latitude, &p.Longitude, &p.Source, &p.BatteryLevel, &p.SportMode, &p.Time)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPositions returns all positions ordered oldest first, optionally
// restricted to one user.
func (s *Store) ListPositions(ctx context.Context, userId *int32) ([]*Position, error) {
	var rows pgx.Rows
	var err error
	if userId != nil {
		rows, err = s.db.Query(ctx, `SELECT id, user_id, latitude, longitude, source, battery_level, sport_mode, time
			FROM positions WHERE user_id = $1 ORDER BY id ASC`, *userId)
	} else {
		rows, err = s.db.Query(ctx, `SELECT id, user_id, latitude, longitude, source, battery_level, sport_mode, time
			FROM positions ORDER BY id ASC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]*Position, 0)
	for rows.Next() {
		p := &Position{}
		if err := rows.Scan(&p.Id, &p.UserId, &p.Latitude, &p.Longitude, &p.Source, &p.BatteryLevel, &p.SportMode, &p.Time); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (s *Store) UpdatePosition(ctx context.Context, id int32, np *NewPosition) (*Position, error) {
	p := &Position{
		UserId:       np.UserId,
		Latitude:     np.Latitude,
		Longitude:    np.Longitude,
		Source:       np.Source,
		BatteryLevel: np.BatteryLevel,
		SportMode:    np.SportMode,
		Time:         np.Time,
	}
	err := s.db.QueryRow(ctx, `UPDATE positions SET user_id = $2, latitude = $3, longitude = $4,
		source = $5, battery_level = $6, sport_mode = $7, time = $8 WHERE id = $1 RETURNING id`,
		id, np.UserId, np.Latitude, np.Longitude, np.Source, np.BatteryLevel, np.SportMode, np.Time).Scan(&p.Id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapPgError(err)
	}
	return p, nil
}

func (s *Store) DeletePosition(ctx context.Context, id int32) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAllPositions(ctx context.Context) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM positions`)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

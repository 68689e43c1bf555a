package sqlstore

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/walletmesh/router/pkg/sessionstore"
)

// sessionRow is the gorm-mapped row backing a sessionstore.Record.
// AuthorizedChains/Metadata are stored as JSON text columns since their
// shapes (a string slice, a string map) don't warrant a normalized schema
// for this store's access pattern (point lookups and full scans only).
type sessionRow struct {
	ID               string `gorm:"primaryKey"`
	Origin           string `gorm:"index"`
	WalletID         string
	AuthorizedChains string
	CreatedAt        int64
	LastActivity     int64
	ExpiresAt        int64 `gorm:"index"`
	State            string
	RecoveryToken    string
	RecoveryAttempts int
	Metadata         string
}

func (sessionRow) TableName() string { return "router_sessions" }

func toRow(rec *sessionstore.Record) (*sessionRow, error) {
	chains, err := json.Marshal(rec.AuthorizedChains)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, err
	}
	return &sessionRow{
		ID:               rec.ID,
		Origin:           rec.Origin,
		WalletID:         rec.WalletID,
		AuthorizedChains: string(chains),
		CreatedAt:        rec.CreatedAt,
		LastActivity:     rec.LastActivity,
		ExpiresAt:        rec.ExpiresAt,
		State:            string(rec.State),
		RecoveryToken:    rec.RecoveryToken,
		RecoveryAttempts: rec.RecoveryAttempts,
		Metadata:         string(meta),
	}, nil
}

func fromRow(row *sessionRow) (*sessionstore.Record, error) {
	rec := &sessionstore.Record{
		ID:               row.ID,
		Origin:           row.Origin,
		WalletID:         row.WalletID,
		CreatedAt:        row.CreatedAt,
		LastActivity:     row.LastActivity,
		ExpiresAt:        row.ExpiresAt,
		State:            sessionstore.State(row.State),
		RecoveryToken:    row.RecoveryToken,
		RecoveryAttempts: row.RecoveryAttempts,
	}
	if row.AuthorizedChains != "" {
		if err := json.Unmarshal([]byte(row.AuthorizedChains), &rec.AuthorizedChains); err != nil {
			return nil, err
		}
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &rec.Metadata); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Store is a gorm-backed sessionstore.Store, for hosts that want sessions
// to survive a process restart (spec §9's non-browser storage note).
type Store struct {
	db *gorm.DB
}

var _ sessionstore.Store = (*Store)(nil)

// New wraps an already-connected *gorm.DB (see Connect) as a session Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Set(id string, rec *sessionstore.Record) error {
	row, err := toRow(rec)
	if err != nil {
		return fmt.Errorf("encode session row: %w", err)
	}
	return s.db.Save(row).Error
}

func (s *Store) Get(id string) (*sessionstore.Record, error) {
	var row sessionRow
	err := s.db.First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func (s *Store) GetAll() ([]*sessionstore.Record, error) {
	var rows []sessionRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*sessionstore.Record, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Delete(&sessionRow{}, "id = ?", id).Error
}

func (s *Store) Clear() error {
	return s.db.Exec("DELETE FROM router_sessions").Error
}

func (s *Store) CleanExpired(now int64) (int, error) {
	result := s.db.Where("expires_at > 0 AND expires_at <= ?", now).Delete(&sessionRow{})
	return int(result.RowsAffected), result.Error
}

func (s *Store) ValidateAndRefresh(id string, now int64, extendOnAccess int64) (*sessionstore.Record, error) {
	rec, err := s.Get(id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= now {
		_ = s.Delete(id)
		return nil, nil
	}
	rec.LastActivity = now
	if extendOnAccess > 0 {
		rec.ExpiresAt = now + extendOnAccess
	}
	if err := s.Set(id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

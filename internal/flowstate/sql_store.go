package flowstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/posflow/pkg/db/models"
	"github.com/angelmondragon/posflow/pkg/enums"
)

// SQLStore persists snapshots in the terminal's local SQLite file.
type SQLStore struct {
	db      *gorm.DB
	profile string
	session string
	now     func() time.Time
}

// NewSQLStore binds the store to one terminal scope and creates the table when
// it is missing.
func NewSQLStore(ctx context.Context, db *gorm.DB, profile, session string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if profile == "" || session == "" {
		return nil, errors.New("terminal profile and session are required")
	}
	if err := db.WithContext(ctx).AutoMigrate(&models.FlowSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate flow snapshots: %w", err)
	}
	return &SQLStore{db: db, profile: profile, session: session, now: time.Now}, nil
}

func (s *SQLStore) Load(ctx context.Context, kind enums.FlowKind) (Snapshot, bool, error) {
	var row models.FlowSnapshot
	err := s.db.WithContext(ctx).
		Where("profile = ? AND session = ? AND kind = ?", s.profile, s.session, kind.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load %s snapshot: %w", kind, err)
	}
	snap, err := decodeSnapshot(kind, row.Payload)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	row := models.FlowSnapshot{
		Profile:   s.profile,
		Session:   s.session,
		Kind:      snap.Kind.String(),
		Payload:   payload,
		UpdatedAt: s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}, {Name: "session"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s snapshot: %w", snap.Kind, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, kind enums.FlowKind) error {
	err := s.db.WithContext(ctx).
		Where("profile = ? AND session = ? AND kind = ?", s.profile, s.session, kind.String()).
		Delete(&models.FlowSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("delete %s snapshot: %w", kind, err)
	}
	return nil
}

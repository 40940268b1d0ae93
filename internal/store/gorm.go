package store

import (
	"context"
	"errors"
	"time"

	"crm-auth-service/internal/model"
	metrics "crm-auth-service/prometheus"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements the stores on PostgreSQL through gorm. The gorm.DB
// must be opened with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore wraps an opened database
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Models lists the tables owned by this store, for AutoMigrate
func Models() []interface{} {
	return []interface{}{
		&model.Organization{},
		&model.User{},
		&model.PasswordReset{},
		&model.RevokedToken{},
	}
}

func (s *GormStore) Users() UserStore                 { return gormUsers{s} }
func (s *GormStore) Organizations() OrganizationStore { return gormOrgs{s} }
func (s *GormStore) ResetTokens() ResetTokenStore     { return gormResets{s} }
func (s *GormStore) Revocations() RevocationStore     { return gormRevocations{s} }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type gormUsers struct{ s *GormStore }

func (g gormUsers) CreateWithOrganization(ctx context.Context, user *model.User, org *model.Organization) error {
	defer metrics.TrackDBOperation("insert")()

	user.Email = model.NormalizeEmail(user.Email)
	return g.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrSlugTaken
			}
			return err
		}
		user.OrganizationID = org.ID
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEmailTaken
			}
			return err
		}
		return nil
	})
}

func (g gormUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	defer metrics.TrackDBOperation("query")()

	var u model.User
	if err := g.s.db.WithContext(ctx).Where("email = ?", model.NormalizeEmail(email)).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (g gormUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	defer metrics.TrackDBOperation("query")()

	var u model.User
	if err := g.s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (g gormUsers) UpdatePassword(ctx context.Context, id, hash string) error {
	defer metrics.TrackDBOperation("update")()

	res := g.s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("password", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g gormUsers) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	defer metrics.TrackDBOperation("update")()

	var u model.User
	err := g.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&u).Error; err != nil {
			return notFound(err)
		}
		update.Apply(&u)
		return tx.Save(&u).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (g gormUsers) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	defer metrics.TrackDBOperation("update")()

	return g.s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("last_login_at", at).Error
}

type gormOrgs struct{ s *GormStore }

func (g gormOrgs) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	defer metrics.TrackDBOperation("query")()

	var o model.Organization
	if err := g.s.db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (g gormOrgs) Update(ctx context.Context, id string, update model.OrganizationUpdate) (*model.Organization, error) {
	defer metrics.TrackDBOperation("update")()

	var o model.Organization
	err := g.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&o).Error; err != nil {
			return notFound(err)
		}
		update.Apply(&o)
		return tx.Save(&o).Error
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type gormResets struct{ s *GormStore }

func (g gormResets) Save(ctx context.Context, rec *model.PasswordReset) error {
	defer metrics.TrackDBOperation("insert")()

	return g.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", rec.Email).Delete(&model.PasswordReset{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
}

func (g gormResets) Get(ctx context.Context, hash string) (*model.PasswordReset, error) {
	defer metrics.TrackDBOperation("query")()

	var r model.PasswordReset
	if err := g.s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (g gormResets) Consume(ctx context.Context, hash string) (*model.PasswordReset, error) {
	defer metrics.TrackDBOperation("delete")()

	var deleted []model.PasswordReset
	res := g.s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("token_hash = ?", hash).
		Delete(&deleted)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || len(deleted) == 0 {
		return nil, ErrNotFound
	}
	return &deleted[0], nil
}

func (g gormResets) Delete(ctx context.Context, hash string) error {
	defer metrics.TrackDBOperation("delete")()

	return g.s.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&model.PasswordReset{}).Error
}

func (g gormResets) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer metrics.TrackDBOperation("delete")()

	db := g.s.db.WithContext(ctx)
	res := db.Where("expires_at <= ?", now).Delete(&model.PasswordReset{})
	if res.Error != nil {
		return 0, res.Error
	}
	if err := db.Where("expires_at <= ?", now).Delete(&model.RevokedToken{}).Error; err != nil {
		return res.RowsAffected, err
	}
	return res.RowsAffected, nil
}

type gormRevocations struct{ s *GormStore }

func (g gormRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	defer metrics.TrackDBOperation("insert")()

	return g.s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.RevokedToken{JTI: jti, ExpiresAt: expiresAt}).Error
}

func (g gormRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	defer metrics.TrackDBOperation("query")()

	var n int64
	err := g.s.db.WithContext(ctx).
		Model(&model.RevokedToken{}).
		Where("jti = ? AND expires_at > ?", jti, g.s.now()).
		Count(&n).Error
	return n > 0, err
}

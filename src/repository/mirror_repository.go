package repository

import (
	"context"
	"errors"
	"fmt"

	"brokerdash/src/database"
	"brokerdash/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirrorRepository writes the local CRM/MT5 mirror. Every Ensure call is an
// insert-or-ignore on the row's natural key followed by an id lookup, so
// re-running an import adds nothing.
type MirrorRepository struct {
	db *gorm.DB
}

func NewMirrorRepository() *MirrorRepository {
	logger.WithField("component", "MirrorRepository").
		Info("Creating new MirrorRepository with MirrorDB")

	return &MirrorRepository{
		db: database.MirrorDB,
	}
}

func NewMirrorRepositoryWithDB(db *gorm.DB) *MirrorRepository {
	return &MirrorRepository{db: db}
}

func (r *MirrorRepository) insertIgnore(ctx context.Context, op string, row interface{}) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "MirrorRepository",
			"op":   op,
		}).WithError(err).Error("Failed to insert mirror row")
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *MirrorRepository) lookupID(ctx context.Context, op string, table interface{}, query string, args ...interface{}) (uint, error) {
	var id uint
	err := r.db.WithContext(ctx).
		Model(table).
		Select("id").
		Where(query, args...).
		Take(&id).Error
	if err != nil {
		return 0, fmt.Errorf("%s lookup: %w", op, err)
	}
	return id, nil
}

// EnsureEntity returns the id of the entity called name.
func (r *MirrorRepository) EnsureEntity(ctx context.Context, name string) (uint, error) {
	if err := r.insertIgnore(ctx, "EnsureEntity", &model.Entity{Name: name}); err != nil {
		return 0, err
	}
	return r.lookupID(ctx, "EnsureEntity", &model.Entity{}, "name = ?", name)
}

// EnsureClient keys clients by CRM user id. An existing client keeps its
// original name and entity.
func (r *MirrorRepository) EnsureClient(ctx context.Context, crmID int64, name string, entityID *uint) (uint, error) {
	row := &model.Client{CrmID: crmID, Name: name, EntityID: entityID}
	if err := r.insertIgnore(ctx, "EnsureClient", row); err != nil {
		return 0, err
	}
	return r.lookupID(ctx, "EnsureClient", &model.Client{}, "crm_id = ?", crmID)
}

func (r *MirrorRepository) EnsureGroup(ctx context.Context, name, path string) (uint, error) {
	if err := r.insertIgnore(ctx, "EnsureGroup", &model.MT5Group{Name: name, Path: path}); err != nil {
		return 0, err
	}
	return r.lookupID(ctx, "EnsureGroup", &model.MT5Group{}, "name = ?", name)
}

func (r *MirrorRepository) EnsureAccount(ctx context.Context, accountID int64, accountType string, clientID, groupID *uint) (uint, error) {
	row := &model.MT5Account{AccountID: accountID, AccountType: accountType, ClientID: clientID, GroupID: groupID}
	if err := r.insertIgnore(ctx, "EnsureAccount", row); err != nil {
		return 0, err
	}
	return r.lookupID(ctx, "EnsureAccount", &model.MT5Account{}, "account_id = ?", accountID)
}

// EnsureSymbol keys symbols by (symbol, group).
func (r *MirrorRepository) EnsureSymbol(ctx context.Context, name, symbol string, groupID uint) (uint, error) {
	row := &model.Symbol{Name: name, Symbol: symbol, GroupID: groupID}
	if err := r.insertIgnore(ctx, "EnsureSymbol", row); err != nil {
		return 0, err
	}
	return r.lookupID(ctx, "EnsureSymbol", &model.Symbol{}, "symbol = ? AND group_id = ?", symbol, groupID)
}

// ClientIDByCrmID returns (nil, nil) when the CRM user was never imported.
func (r *MirrorRepository) ClientIDByCrmID(ctx context.Context, crmID int64) (*uint, error) {
	id, err := r.lookupID(ctx, "ClientIDByCrmID", &model.Client{}, "crm_id = ?", crmID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// AccountGroupID returns the group of a mirrored MT5 login, or (nil, nil)
// when the login is unknown or has no group.
func (r *MirrorRepository) AccountGroupID(ctx context.Context, accountID int64) (*uint, error) {
	var account model.MT5Account
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("AccountGroupID lookup: %w", err)
	}
	return account.GroupID, nil
}

// MirrorCounts reports row counts per mirror table.
type MirrorCounts struct {
	Entities int64
	Clients  int64
	Groups   int64
	Accounts int64
	Symbols  int64
}

func (r *MirrorRepository) Counts(ctx context.Context) (MirrorCounts, error) {
	var c MirrorCounts
	targets := []struct {
		model interface{}
		dest  *int64
	}{
		{&model.Entity{}, &c.Entities},
		{&model.Client{}, &c.Clients},
		{&model.MT5Group{}, &c.Groups},
		{&model.MT5Account{}, &c.Accounts},
		{&model.Symbol{}, &c.Symbols},
	}
	for _, t := range targets {
		if err := r.db.WithContext(ctx).Model(t.model).Count(t.dest).Error; err != nil {
			return c, fmt.Errorf("count mirror rows: %w", err)
		}
	}
	return c, nil
}

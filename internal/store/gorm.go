package store

import (
	"context" // Request context
	"errors"  // Error classification

	mysqldriver "github.com/go-sql-driver/mysql" // MySQL duplicate-key errors
	"github.com/jackc/pgx/v5/pgconn"             // Postgres duplicate-key errors
	"gorm.io/gorm"                               // GORM ORM

	"crowdfund_ledger/internal/domain" // Domain models
)

// GormStore persists the ledger through gorm (MySQL or PostgreSQL).
type GormStore struct {
	db *gorm.DB // MySQL or Postgres handle
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// isDuplicateKey recognises unique-key violations from either dialect.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateWallet
		}
		return err
	}
	return nil
}

func (s *GormStore) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (s *GormStore) GetWalletByOwner(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := s.db.WithContext(ctx).Where("owner_id = ? AND currency = ?", ownerID, currency).First(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// CompareAndSetBalance writes the new balance only if the row still carries expectedVersion.
func (s *GormStore) CompareAndSetBalance(ctx context.Context, id string, expectedVersion, newBalance, updatedAt int64) error {
	if newBalance < 0 {
		return ErrNegativeBalance
	}
	res := s.db.WithContext(ctx).Model(&domain.Wallet{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"balance_minor_units": newBalance,
			"version":             gorm.Expr("version + 1"),
			"updated_at":          updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.conflictOrMissing(ctx, &domain.Wallet{}, id)
	}
	return nil
}

// conflictOrMissing explains a zero-row conditional update.
func (s *GormStore) conflictOrMissing(ctx context.Context, model any, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *GormStore) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *GormStore) CompareAndSetCampaign(ctx context.Context, id string, expectedVersion, newCurrent int64, status domain.CampaignStatus, updatedAt int64) error {
	if newCurrent < 0 {
		return ErrNegativeBalance
	}
	res := s.db.WithContext(ctx).Model(&domain.Campaign{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"current_minor_units": newCurrent,
			"status":              status,
			"version":             gorm.Expr("version + 1"),
			"updated_at":          updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.conflictOrMissing(ctx, &domain.Campaign{}, id)
	}
	return nil
}

func (s *GormStore) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	return s.db.WithContext(ctx).Create(tx).Error
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (s *GormStore) UpdateTransaction(ctx context.Context, id string, upd TransactionUpdate) error {
	fields := map[string]any{"updated_at": upd.UpdatedAt}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if upd.ReconciliationNeeded != nil {
		fields["reconciliation_needed"] = *upd.ReconciliationNeeded
	}
	if upd.Compensated != nil {
		fields["compensated"] = *upd.Compensated
	}
	if upd.ReconciliationNote != nil {
		fields["reconciliation_note"] = *upd.ReconciliationNote
	}
	res := s.db.WithContext(ctx).Model(&domain.Transaction{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListTransactions(ctx context.Context, userID string, limit int, before *Cursor) ([]domain.Transaction, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.CreatedAt, before.CreatedAt, before.ID)
	}
	var txs []domain.Transaction
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *GormStore) ListReconciliation(ctx context.Context, limit int) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	err := s.db.WithContext(ctx).Where("reconciliation_needed = ?", true).
		Order("created_at DESC").Order("id DESC").Limit(limit).Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *GormStore) SumCompletedForCampaign(ctx context.Context, campaignID string) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("campaign_id = ? AND status = ?", campaignID, domain.StatusCompleted).
		Select("COALESCE(SUM(amount_minor_units), 0)").
		Scan(&sum).Error
	return sum, err
}

// InsertReceipt relies on the primary key over external_ref; concurrent duplicates lose at the database.
func (s *GormStore) InsertReceipt(ctx context.Context, r *domain.PaymentReceipt) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (s *GormStore) GetReceipt(ctx context.Context, ref string) (*domain.PaymentReceipt, error) {
	var r domain.PaymentReceipt
	if err := s.db.WithContext(ctx).Where("external_ref = ?", ref).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *GormStore) UpdateReceipt(ctx context.Context, ref string, upd ReceiptUpdate) error {
	fields := map[string]any{"status": upd.Status, "updated_at": upd.UpdatedAt}
	if upd.TransactionID != nil {
		fields["transaction_id"] = *upd.TransactionID
	}
	res := s.db.WithContext(ctx).Model(&domain.PaymentReceipt{}).Where("external_ref = ?", ref).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteReceipt(ctx context.Context, ref string) error {
	res := s.db.WithContext(ctx).Where("external_ref = ?", ref).Delete(&domain.PaymentReceipt{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

package bookingRepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"lensbook/models"
)

const (
	activeSlotIndex  = "idx_reservations_active_slot"
	quoteUniqueIndex = "idx_reservations_quote"
)

// GormRepo implements Repository on a SQL database (postgres in production,
// sqlite for development and tests).
type GormRepo struct {
	db *gorm.DB
}

// NewGormRepo wraps an open gorm handle.
func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

// EnsureIndexes migrates the schema and creates the partial unique indexes the
// booking invariants depend on.
func (r *GormRepo) EnsureIndexes(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.AutoMigrate(&models.Quote{}, &models.Reservation{}, &models.Transaction{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	active := make([]string, 0, len(models.ActiveReservationStatuses))
	for _, s := range models.ActiveReservationStatuses {
		active = append(active, "'"+string(s)+"'")
	}
	stmts := []string{
		fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON reservations (provider_id, service_date_time, slot_window) WHERE status IN (%s)",
			activeSlotIndex, strings.Join(active, ","),
		),
		fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON reservations (quote_id) WHERE quote_id <> ''",
			quoteUniqueIndex,
		),
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// WithTransaction runs fn inside db.Transaction.
func (r *GormRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &GormRepo{db: tx})
	})
}

func (r *GormRepo) CreateQuote(ctx context.Context, q *models.Quote) error {
	if err := r.db.WithContext(ctx).Create(q).Error; err != nil {
		return fmt.Errorf("error creating quote: %w", err)
	}
	return nil
}

func (r *GormRepo) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	var q models.Quote
	if err := r.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching quote %s: %w", id, err)
	}
	return &q, nil
}

func (r *GormRepo) ListQuotes(ctx context.Context, f QuoteFilter) ([]models.Quote, error) {
	query := r.db.WithContext(ctx).Model(&models.Quote{})
	if f.ProviderID != "" {
		query = query.Where("provider_id = ?", f.ProviderID)
	}
	if f.ClientID != "" {
		query = query.Where("client_id = ?", f.ClientID)
	}
	if f.DemandID != "" {
		query = query.Where("demand_id = ?", f.DemandID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	var quotes []models.Quote
	if err := query.Order("created_at DESC").Find(&quotes).Error; err != nil {
		return nil, fmt.Errorf("error listing quotes: %w", err)
	}
	return quotes, nil
}

func (r *GormRepo) UpdateQuote(ctx context.Context, q *models.Quote, expected models.QuoteStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("id = ? AND status = ?", q.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(q)
	if res.Error != nil {
		return fmt.Errorf("error updating quote %s: %w", q.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missingOrStale(ctx, &models.Quote{}, q.ID)
	}
	return nil
}

func (r *GormRepo) InsertReservation(ctx context.Context, res *models.Reservation) error {
	if err := r.db.WithContext(ctx).Create(res).Error; err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "quote_id") || strings.Contains(err.Error(), quoteUniqueIndex) {
				return ErrDuplicateReservation
			}
			return ErrDuplicateSlot
		}
		return fmt.Errorf("error creating reservation: %w", err)
	}
	return nil
}

func (r *GormRepo) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching reservation %s: %w", id, err)
	}
	return &res, nil
}

func (r *GormRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]models.Reservation, error) {
	query := r.db.WithContext(ctx).Model(&models.Reservation{})
	if f.ProviderID != "" {
		query = query.Where("provider_id = ?", f.ProviderID)
	}
	if f.ClientID != "" {
		query = query.Where("client_id = ?", f.ClientID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	var out []models.Reservation
	if err := query.Order("service_date_time ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("error listing reservations: %w", err)
	}
	return out, nil
}

func (r *GormRepo) TransitionReservation(ctx context.Context, res *models.Reservation, from models.ReservationStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", res.ID, from).
		Updates(map[string]any{
			"status":              res.Status,
			"cancellation_reason": res.CancellationReason,
			"updated_at":          res.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("error updating reservation %s: %w", res.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOrStale(ctx, &models.Reservation{}, res.ID)
	}
	return nil
}

func (r *GormRepo) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("error appending transaction: %w", err)
	}
	return nil
}

func (r *GormRepo) FindTransactionByEvent(ctx context.Context, externalEventID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.WithContext(ctx).First(&t, "external_event_id = ?", externalEventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching transaction for event %s: %w", externalEventID, err)
	}
	return &t, nil
}

func (r *GormRepo) ListTransactions(ctx context.Context, reservationID string) ([]models.Transaction, error) {
	var out []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("error listing transactions for %s: %w", reservationID, err)
	}
	return out, nil
}

func (r *GormRepo) SumByReservation(ctx context.Context, reservationID string) (models.Money, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("reservation_id = ?", reservationID).
		Select("COALESCE(SUM(gross_amount), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("error summing transactions for %s: %w", reservationID, err)
	}
	return models.Money(total), nil
}

func (r *GormRepo) HasEvent(ctx context.Context, externalEventID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("external_event_id = ?", externalEventID).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("error checking event %s: %w", externalEventID, err)
	}
	return n > 0, nil
}

func (r *GormRepo) missingOrStale(ctx context.Context, model any, id string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("error checking record %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStaleStatus
}

// isUniqueViolation recognises unique constraint failures from both postgres
// ("duplicate key value violates unique constraint") and sqlite
// ("UNIQUE constraint failed").
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

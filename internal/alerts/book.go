package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vesa/pulseboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// derivedIDs lists every identifier Derive can produce.
var derivedIDs = map[string]bool{
	DerivedID(RuleCPU, models.SeverityCritical):       true,
	DerivedID(RuleCPU, models.SeverityWarning):        true,
	DerivedID(RuleMemory, models.SeverityCritical):    true,
	DerivedID(RuleContainers, models.SeverityWarning): true,
}

// IsDerivedID reports whether id belongs to a threshold rule rather than to
// a persistent alert.
func IsDerivedID(id string) bool { return derivedIDs[id] }

// NewAlert is the operator input for Book.Add.
type NewAlert struct {
	Severity    models.Severity `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Source      string          `json:"source"`
}

// Book is the persistent alert list plus the acknowledgement set for
// derived alerts, stored through gorm.
type Book struct {
	db  *gorm.DB
	mu  sync.Mutex // serialises position allocation
	now func() time.Time
}

// NewBook wraps an opened database. Call Migrate before use.
func NewBook(db *gorm.DB) *Book {
	return &Book{db: db, now: time.Now}
}

// Migrate creates or updates the alert tables.
func (b *Book) Migrate(ctx context.Context) error {
	if err := b.db.WithContext(ctx).AutoMigrate(&models.Alert{}, &models.DerivedAck{}); err != nil {
		return fmt.Errorf("auto-migrate alerts: %w", err)
	}
	return nil
}

// Seed inserts alerts in order when the book is empty. It returns the number
// of rows written.
func (b *Book) Seed(ctx context.Context, seed []models.Alert) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	if err := b.db.WithContext(ctx).Model(&models.Alert{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	if n > 0 || len(seed) == 0 {
		return 0, nil
	}
	rows := make([]models.Alert, len(seed))
	for i, a := range seed {
		a.Position = int64(i + 1)
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		rows[i] = a
	}
	if err := b.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("seed alerts: %w", err)
	}
	return len(rows), nil
}

// List returns persistent alerts in insertion order.
func (b *Book) List(ctx context.Context) ([]models.Alert, error) {
	var out []models.Alert
	if err := b.db.WithContext(ctx).Order("position asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// Add appends a persistent alert, unacknowledged, stamped with the current
// time.
func (b *Book) Add(ctx context.Context, in NewAlert) (models.Alert, error) {
	in.Title = strings.TrimSpace(in.Title)
	if !in.Severity.Valid() {
		return models.Alert{}, fmt.Errorf("%w: severity %q", models.ErrInvalidArgument, in.Severity)
	}
	if in.Title == "" {
		return models.Alert{}, fmt.Errorf("%w: title is required", models.ErrInvalidArgument)
	}
	if in.Source == "" {
		in.Source = "Operator"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	a := models.Alert{
		ID:             uuid.NewString(),
		Severity:       in.Severity,
		Title:          in.Title,
		Description:    in.Description,
		TimestampLabel: now.Format(models.TimestampLayout),
		Source:         in.Source,
		CreatedAt:      now,
	}
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&models.Alert{}).Select("COALESCE(MAX(position), 0)").Scan(&last).Error; err != nil {
			return err
		}
		a.Position = last + 1
		return tx.Create(&a).Error
	})
	if err != nil {
		return models.Alert{}, fmt.Errorf("add alert: %w", err)
	}
	return a, nil
}

// Acknowledge marks a persistent alert acknowledged, or records the
// acknowledgement of a derived alert id. Acknowledging twice is a no-op.
func (b *Book) Acknowledge(ctx context.Context, id string) error {
	if IsDerivedID(id) {
		return b.AcknowledgeDerived(ctx, id)
	}
	res := b.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", id).Update("acknowledged", true)
	if res.Error != nil {
		return fmt.Errorf("acknowledge alert: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// sqlite reports matched rows, so zero means the id is unknown.
		return fmt.Errorf("%w: alert %q", models.ErrNotFound, id)
	}
	return nil
}

// Dismiss removes a persistent alert. Derived alerts cannot be dismissed;
// they disappear once their condition clears.
func (b *Book) Dismiss(ctx context.Context, id string) error {
	if IsDerivedID(id) {
		return fmt.Errorf("%w: derived alert %q cannot be dismissed", models.ErrInvalidArgument, id)
	}
	res := b.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Alert{})
	if res.Error != nil {
		return fmt.Errorf("dismiss alert: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: alert %q", models.ErrNotFound, id)
	}
	return nil
}

// AcknowledgeDerived records id as acknowledged until RetainDerived drops it.
func (b *Book) AcknowledgeDerived(ctx context.Context, id string) error {
	if !IsDerivedID(id) {
		return fmt.Errorf("%w: %q is not a derived alert", models.ErrInvalidArgument, id)
	}
	ack := models.DerivedAck{AlertID: id, CreatedAt: b.now()}
	if err := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ack).Error; err != nil {
		return fmt.Errorf("acknowledge derived alert: %w", err)
	}
	return nil
}

// AckedDerived returns the set of acknowledged derived ids.
func (b *Book) AckedDerived(ctx context.Context) (map[string]bool, error) {
	var rows []models.DerivedAck
	if err := b.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list derived acks: %w", err)
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.AlertID] = true
	}
	return out, nil
}

// RetainDerived forgets acknowledgements of derived alerts that are no
// longer active, so a condition that clears and recurs alerts again.
func (b *Book) RetainDerived(ctx context.Context, active []string) error {
	q := b.db.WithContext(ctx)
	var err error
	if len(active) == 0 {
		err = q.Where("1 = 1").Delete(&models.DerivedAck{}).Error
	} else {
		err = q.Where("alert_id NOT IN ?", active).Delete(&models.DerivedAck{}).Error
	}
	if err != nil {
		return fmt.Errorf("prune derived acks: %w", err)
	}
	return nil
}

// Get returns one persistent alert.
func (b *Book) Get(ctx context.Context, id string) (models.Alert, error) {
	var a models.Alert
	err := b.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Alert{}, fmt.Errorf("%w: alert %q", models.ErrNotFound, id)
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

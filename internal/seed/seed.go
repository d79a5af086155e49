// Package seed bootstraps the catalog rows the engine cannot run without:
// the free_default plan every new profile lands on, and the configured limit
// defaults.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/substation/internal/plan/domain"
	"gorm.io/gorm"

	"github.com/smallbiznis/substation/internal/config"
)

// EnsureDefaults seeds the free default plan and the limit catalog on
// startup. Existing rows are left alone, so operators can rename or retune
// after first boot.
func EnsureDefaults(db *gorm.DB, billing config.BillingConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureDefaultPlanTx(ctx, tx, node, billing.DefaultPlanName); err != nil {
			return err
		}
		return ensureLimitsTx(ctx, tx, node, billing.DefaultLimits)
	})
}

func ensureDefaultPlanTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, name string) (plandomain.Plan, error) {
	var plan plandomain.Plan
	err := tx.WithContext(ctx).
		Where("type = ?", plandomain.PlanTypeFreeDefault).
		First(&plan).Error
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return plandomain.Plan{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Default (Free)"
	}
	now := time.Now().UTC()
	plan = plandomain.Plan{
		ID:        node.Generate(),
		Name:      name,
		Type:      plandomain.PlanTypeFreeDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
		return plandomain.Plan{}, err
	}
	return plan, nil
}

func ensureLimitsTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, defaults map[string]int64) error {
	for name, value := range defaults {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		var existing plandomain.Limit
		err := tx.WithContext(ctx).Where("name = ?", name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		limit := plandomain.Limit{
			ID:           node.Generate(),
			Name:         name,
			DefaultValue: value,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(&limit).Error; err != nil {
			return err
		}
	}
	return nil
}

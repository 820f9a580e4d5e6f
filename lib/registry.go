package lib

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fiffu/eventpush/config"
	"github.com/fiffu/eventpush/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type registry struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

// Register stores desc for owner. An owner has at most one subscription, so a
// repeat registration (key rotation, new endpoint) updates the existing row.
func (svc *registry) Register(ctx context.Context, desc models.EndpointDescriptor, owner models.Owner, clientDescriptor string) (*models.PushSubscription, error) {
	if !desc.HasEndpoint() {
		return nil, ErrInvalidSubscription
	}
	if owner.IsZero() {
		return nil, ErrUnauthorized
	}

	sub, created, err := svc.upsert(ctx, desc, owner, clientDescriptor)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost an insert race against the same owner; the row exists now.
		sub, created, err = svc.upsert(ctx, desc, owner, clientDescriptor)
	}
	if err != nil {
		return nil, storeError("register", err)
	}

	if created {
		svc.log.Sugar().Infow("Created push subscription", "id", sub.ID, "owner", owner.String())
	} else {
		svc.log.Sugar().Infow("Updated push subscription", "id", sub.ID, "owner", owner.String())
	}
	return sub, nil
}

func (svc *registry) upsert(ctx context.Context, desc models.EndpointDescriptor, owner models.Owner, clientDescriptor string) (*models.PushSubscription, bool, error) {
	var sub models.PushSubscription
	var created bool

	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(owner.Column()+" = ?", owner.ID).First(&sub).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			sub = models.PushSubscription{Descriptor: desc, ClientDescriptor: clientDescriptor}
			sub.SetOwner(owner)
			return tx.Create(&sub).Error
		case err != nil:
			return err
		}

		sub.Descriptor = desc
		if clientDescriptor != "" {
			sub.ClientDescriptor = clientDescriptor
		}
		return tx.Save(&sub).Error
	})
	return &sub, created, err
}

// Unregister removes the rows matched by the first selector that matches
// anything. Selectors are tried in the order given. Removing nothing is not
// an error.
func (svc *registry) Unregister(ctx context.Context, selectors ...Selector) (int64, error) {
	for _, sel := range selectors {
		tx := sel.scope(svc.db.WithContext(ctx)).Delete(&models.PushSubscription{})
		if err := tx.Error; err != nil {
			return 0, storeError("unregister", err)
		}
		if tx.RowsAffected > 0 {
			svc.log.Sugar().Infow("Removed push subscription", "by", sel.Kind.String(), "count", tx.RowsAffected)
			return tx.RowsAffected, nil
		}
	}
	return 0, nil
}

func (svc *registry) ListAll(ctx context.Context) (models.PushSubscriptions, error) {
	var subs models.PushSubscriptions
	if err := svc.db.WithContext(ctx).Order("created_at").Find(&subs).Error; err != nil {
		return nil, storeError("list subscriptions", err)
	}
	return subs, nil
}

// Prune removes sub only while its row still holds the descriptor that was
// reported gone. A row re-registered in the meantime (new endpoint or rotated
// keys) is left alone and Prune reports false.
func (svc *registry) Prune(ctx context.Context, sub *models.PushSubscription) (bool, error) {
	// Same encoding gorm's json serializer writes to the column.
	descriptor, err := json.Marshal(sub.Descriptor)
	if err != nil {
		return false, storeError("prune subscription", err)
	}
	tx := svc.db.WithContext(ctx).
		Where("id = ? AND endpoint = ? AND descriptor = ?", sub.ID, sub.Endpoint, string(descriptor)).
		Delete(&models.PushSubscription{})
	if err := tx.Error; err != nil {
		return false, storeError("prune subscription", err)
	}
	return tx.RowsAffected > 0, nil
}

package app

import (
	"time"

	"github.com/fiffu/eventpush/lib/models"
)

type SubscriptionView struct {
	ID                 string                    `json:"id"`
	UserID             *string                   `json:"user_id"`
	DeviceID           *string                   `json:"device_id"`
	EndpointDescriptor models.EndpointDescriptor `json:"endpoint_descriptor"`
	ClientDescriptor   string                    `json:"client_descriptor"`
	CreatedAt          string                    `json:"created_at"`
	UpdatedAt          string                    `json:"updated_at"`
}

func (view SubscriptionView) From(entity *models.PushSubscription) SubscriptionView {
	view = SubscriptionView{
		ID:                 entity.ID,
		EndpointDescriptor: entity.Descriptor,
		ClientDescriptor:   entity.ClientDescriptor,
		CreatedAt:          isoformat(entity.CreatedAt),
		UpdatedAt:          isoformat(entity.UpdatedAt),
	}
	if entity.UserID.Valid {
		view.UserID = &entity.UserID.String
	}
	if entity.DeviceID.Valid {
		view.DeviceID = &entity.DeviceID.String
	}
	return view
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

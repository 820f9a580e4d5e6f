package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OwnerKind string

const (
	OwnerUser   OwnerKind = "user"
	OwnerDevice OwnerKind = "device"
)

// Owner is the principal a subscription belongs to: an authenticated user or
// an anonymous installed-app instance.
type Owner struct {
	Kind OwnerKind
	ID   string
}

func UserOwner(id string) Owner   { return Owner{OwnerUser, id} }
func DeviceOwner(id string) Owner { return Owner{OwnerDevice, id} }

func (o Owner) IsZero() bool {
	return o.ID == "" || (o.Kind != OwnerUser && o.Kind != OwnerDevice)
}

// Column is the push_subscriptions column holding this kind of owner.
func (o Owner) Column() string {
	if o.Kind == OwnerUser {
		return "user_id"
	}
	return "device_id"
}

func (o Owner) String() string {
	return string(o.Kind) + ":" + o.ID
}

type EndpointKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// EndpointDescriptor is the delivery address handed out by the browser's push
// manager. It is stored as an opaque blob.
type EndpointDescriptor struct {
	Endpoint string       `json:"endpoint"`
	Keys     EndpointKeys `json:"keys"`
}

func (d EndpointDescriptor) HasEndpoint() bool {
	return d.Endpoint != ""
}

// Deliverable reports whether the descriptor carries everything the push
// protocol needs to encrypt and address a message.
func (d EndpointDescriptor) Deliverable() bool {
	return d.Endpoint != "" && d.Keys.P256dh != "" && d.Keys.Auth != ""
}

type PushSubscription struct {
	ID               string             `gorm:"type:varchar(36);primaryKey"`
	UserID           sql.NullString     `gorm:"uniqueIndex"`
	DeviceID         sql.NullString     `gorm:"uniqueIndex"`
	Endpoint         string             `gorm:"index"`
	Descriptor       EndpointDescriptor `gorm:"serializer:json;type:text"`
	ClientDescriptor string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type PushSubscriptions []PushSubscription

func (s *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *PushSubscription) BeforeSave(tx *gorm.DB) error {
	s.Endpoint = s.Descriptor.Endpoint
	return nil
}

func (s *PushSubscription) SetOwner(o Owner) {
	s.UserID, s.DeviceID = sql.NullString{}, sql.NullString{}
	switch o.Kind {
	case OwnerUser:
		s.UserID = sql.NullString{String: o.ID, Valid: true}
	case OwnerDevice:
		s.DeviceID = sql.NullString{String: o.ID, Valid: true}
	}
}

func (s *PushSubscription) Owner() Owner {
	if s.UserID.Valid {
		return UserOwner(s.UserID.String)
	}
	return DeviceOwner(s.DeviceID.String)
}

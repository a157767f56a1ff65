package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/roles"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// GetID returns the record's primary key
func (b *BaseModel) GetID() string {
	return b.ID
}

// Settings is the platform-wide singleton row (only one row should exist)
type Settings struct {
	BaseModel
	JWTSecret string `json:"-" gorm:"type:varchar(64);not null"` // Auto-generated on first boot (64 hex chars)
}

// Plan is the billing tier of a ministry. Billing itself lives with the payment provider.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanGrowth   Plan = "growth"
	PlanCitywide Plan = "citywide"
)

// Ministry is a tenant organization
type Ministry struct {
	BaseModel
	Name     string `json:"name" gorm:"not null"`
	Slug     string `json:"slug" gorm:"not null;uniqueIndex"`
	Timezone string `json:"timezone" gorm:"not null;default:UTC"`
	Plan     Plan   `json:"plan" gorm:"not null;default:free"`

	// Messaging quota, reset monthly
	SMSQuota     int        `json:"sms_quota" gorm:"not null;default:0"`
	SMSUsed      int        `json:"sms_used" gorm:"not null;default:0"`
	MMSEnabled   bool       `json:"mms_enabled" gorm:"not null;default:false"`
	QuotaResetAt *time.Time `json:"quota_reset_at"`
}

// SMSRemaining returns how many text messages can still be sent this period
func (m *Ministry) SMSRemaining() int {
	if m.SMSUsed >= m.SMSQuota {
		return 0
	}
	return m.SMSQuota - m.SMSUsed
}

// User is a staff account that can sign in
type User struct {
	BaseModel
	Email        string     `json:"email" gorm:"unique;not null"`
	PasswordHash string     `json:"-" gorm:"not null"`
	FirstName    string     `json:"first_name" gorm:"not null"`
	LastName     string     `json:"last_name"`
	Phone        string     `json:"phone"`
	Role         roles.Role `json:"role" gorm:"type:varchar(32);not null;index"`
	MinistryID   *string    `json:"ministry_id" gorm:"type:varchar(26);index"`
	LastLoginAt  *time.Time `json:"last_login_at"`

	Ministry *Ministry `json:"ministry,omitempty" gorm:"foreignKey:MinistryID;constraint:OnDelete:CASCADE"`
}

// MinistryRef returns the user's ministry id or an empty string for platform admins
func (u *User) MinistryRef() string {
	if u.MinistryID == nil {
		return ""
	}
	return *u.MinistryID
}

// Profile holds the contact details shared by every person record
type Profile struct {
	FirstName string `json:"first_name" gorm:"not null"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" gorm:"index"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Notes     string `json:"notes" gorm:"type:text"`
}

// GetProfile exposes the embedded profile through the Person interface
func (p *Profile) GetProfile() *Profile {
	return p
}

// FullName joins first and last name
func (p *Profile) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Person is implemented by every record kind that belongs to a ministry's people directory
type Person interface {
	GetID() string
	GetMinistryID() string
	GetProfile() *Profile
}

// Tenant scopes a record to one ministry
type Tenant struct {
	MinistryID string `json:"ministry_id" gorm:"type:varchar(26);not null;index"`
}

// GetMinistryID returns the owning ministry
func (t *Tenant) GetMinistryID() string {
	return t.MinistryID
}

// Convert records a salvation decision
type Convert struct {
	BaseModel
	Tenant
	Profile
	DecisionDate time.Time `json:"decision_date"`
	Source       string    `json:"source"` // "web", "service", "outreach"
}

// NewMember is a membership registration awaiting promotion
type NewMember struct {
	BaseModel
	Tenant
	Profile
	RegisteredAt time.Time `json:"registered_at"`
	MemberID     *string   `json:"member_id" gorm:"type:varchar(26)"` // Set once promoted
}

// Member is an established member of a ministry
type Member struct {
	BaseModel
	Tenant
	Profile
	JoinedAt time.Time `json:"joined_at"`
	Active   bool      `json:"active" gorm:"not null;default:true"`
}

// Guest is a first-time visitor
type Guest struct {
	BaseModel
	Tenant
	Profile
	VisitDate time.Time `json:"visit_date"`
	InvitedBy string    `json:"invited_by"`
}

// Channel is how a follow-up reaches a person
type Channel string

const (
	ChannelAuto  Channel = "auto"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelMMS   Channel = "mms"
)

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelAuto, ChannelEmail, ChannelSMS, ChannelMMS:
		return true
	}
	return false
}

// FollowUpStatus tracks the lifecycle of a follow-up
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpQueued    FollowUpStatus = "queued"
	FollowUpSent      FollowUpStatus = "sent"
	FollowUpCompleted FollowUpStatus = "completed"
	FollowUpCancelled FollowUpStatus = "cancelled"
	FollowUpFailed    FollowUpStatus = "failed"
)

// FollowUp is a scheduled contact with a person, owned by a leader
type FollowUp struct {
	BaseModel
	Tenant
	PersonKind       string         `json:"person_kind" gorm:"type:varchar(32);not null"`
	PersonID         string         `json:"person_id" gorm:"type:varchar(26);not null;index"`
	AssignedLeaderID *string        `json:"assigned_leader_id" gorm:"type:varchar(26);index"`
	DueAt            time.Time      `json:"due_at" gorm:"not null;index"`
	Channel          Channel        `json:"channel" gorm:"type:varchar(16);not null;default:auto"`
	Note             string         `json:"note" gorm:"type:text"`
	Schedule         string         `json:"schedule"` // Cron expression for recurring follow-ups, empty = one-off
	Status           FollowUpStatus `json:"status" gorm:"type:varchar(16);not null;default:pending;index"`
	Attempts         int            `json:"attempts" gorm:"not null;default:0"`
	QueuedAt         *time.Time     `json:"queued_at,omitempty" gorm:"index"` // Set while a delivery task owns the follow-up
	LastSentAt       *time.Time     `json:"last_sent_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	LastError        string         `json:"last_error,omitempty"`

	AssignedLeader *User `json:"assigned_leader,omitempty" gorm:"foreignKey:AssignedLeaderID;constraint:OnDelete:SET NULL"`
}

// Notification is a delivered (or attempted) reminder message
type Notification struct {
	BaseModel
	Tenant
	FollowUpID string  `json:"follow_up_id" gorm:"type:varchar(26);not null;index"`
	Channel    Channel `json:"channel" gorm:"type:varchar(16);not null"`
	Recipient  string  `json:"recipient" gorm:"not null"`
	Body       string  `json:"body" gorm:"type:text"`
	Error      string  `json:"error,omitempty"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	// Collect all models
	models := []interface{}{
		&Settings{}, &Ministry{}, &User{},
		&Convert{}, &NewMember{}, &Member{}, &Guest{},
		&FollowUp{}, &Notification{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

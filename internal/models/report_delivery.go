package models

import "time"

const (
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
	DeliveryStatusSkipped = "skipped" // no recipients, nothing sent

	DeliveryTriggerSchedule = "schedule"
	DeliveryTriggerManual   = "manual"
)

// ReportDelivery records one generate-render-deliver run of a report configuration
type ReportDelivery struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ConfigID   uint   `gorm:"index;not null" json:"config_id"`
	ConfigName string `gorm:"size:100" json:"config_name"`
	RunID      string `gorm:"uniqueIndex;size:36;not null" json:"run_id"`
	Trigger    string `gorm:"size:20" json:"trigger"` // schedule, manual
	Format     string `gorm:"size:20" json:"format"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	EntryCount     int `json:"entry_count"`
	RecipientCount int `json:"recipient_count"`
	AttachmentSize int `json:"attachment_size"`

	Status      string     `gorm:"size:20;index" json:"status"` // sent, failed, skipped
	FailedStage string     `gorm:"size:20" json:"failed_stage"`
	Error       string     `gorm:"type:text" json:"error"`
	DeliveredAt *time.Time `json:"delivered_at"`

	CreatedAt time.Time `json:"created_at"`
}

func (ReportDelivery) TableName() string { return "report_deliveries" }

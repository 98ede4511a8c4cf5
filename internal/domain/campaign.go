package domain

// CampaignStatus is the lifecycle state of a funding campaign
type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign Model (funding target)
type Campaign struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`                                                     // Primary key (uuid)
	OwnerID           string         `gorm:"size:64;not null;index" json:"owner_id"`                                           // Recipient of the funds
	Currency          string         `gorm:"size:3;not null" json:"currency"`                                                  // Currency of contributions
	GoalMinorUnits    int64          `gorm:"not null;check:chk_campaign_goal,goal_minor_units > 0" json:"goal_minor_units"`    // Funding goal
	CurrentMinorUnits int64          `gorm:"not null;default:0;check:chk_campaign_current,current_minor_units >= 0" json:"current_minor_units"` // Funds raised so far
	Status            CampaignStatus `gorm:"size:16;not null" json:"status"`                                                   // active, completed, cancelled
	Version           int64          `gorm:"not null;default:0" json:"version"`                                                // Optimistic concurrency token
	CreatedAt         int64          `gorm:"autoCreateTime:milli" json:"created_at"`                                           // Creation time in milliseconds
	UpdatedAt         int64          `gorm:"autoUpdateTime:milli" json:"updated_at"`                                           // Last update in milliseconds
}

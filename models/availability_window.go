package models

// AvailabilityWindow is a recurring weekly slot. DayOfWeek is 0=Sunday..6.
// StartTime and EndTime are local "HH:MM" (or "HH:MM:SS") in the owner's
// timezone; EndTime before StartTime means the slot runs past midnight.
type AvailabilityWindow struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	UserID      string  `json:"user_id" gorm:"size:36;not null;index"`
	DayOfWeek   int     `json:"day_of_week" gorm:"not null;index;check:day_of_week BETWEEN 0 AND 6"`
	StartTime   string  `json:"start_time" gorm:"size:8;not null"`
	EndTime     string  `json:"end_time" gorm:"size:8;not null"`
	Description *string `json:"description" gorm:"size:255"`
}

func (AvailabilityWindow) TableName() string {
	return "availability_windows"
}

package projects

import "time"

// Project is the tenant-scoped parent record every synced entity belongs to.
type Project struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID  string    `gorm:"column:tenant_id;size:190;not null;index"`
	Name      string    `gorm:"column:name;size:320;not null"`
	Address   string    `gorm:"column:address;size:512"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

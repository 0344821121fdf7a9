package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息。Authentication lives outside this service;
// the row only anchors ownership and plan tier.
type User struct {
	gorm.Model
	Username  string     `gorm:"uniqueIndex;size:64"`
	PlanTier  string     `gorm:"size:32;default:free"`
	Documents []Document `gorm:"constraint:OnDelete:CASCADE"`
}

// Document 表示用户组装的结构化文档。
// Content holds the canonical content model as JSONB.
type Document struct {
	gorm.Model
	Title           string         `gorm:"size:255"`
	Content         datatypes.JSON `gorm:"type:jsonb"`
	UserID          uint           `gorm:"index"`
	User            User           `gorm:"constraint:OnDelete:CASCADE"`
	ArtifactKey     string         `gorm:"size:512"`
	PreviewImageURL string         `gorm:"size:512"`
	Status          string         `gorm:"size:32"`
}

// BatchRun 表示一次批量生成请求。
// Specs holds the submitted input specs as JSONB; BundleKey points at
// the packaged zip of successful artifacts once the run settles.
type BatchRun struct {
	gorm.Model
	UserID    uint           `gorm:"index"`
	User      User           `gorm:"constraint:OnDelete:CASCADE"`
	Specs     datatypes.JSON `gorm:"type:jsonb"`
	Format    string         `gorm:"size:16"`
	Status    string         `gorm:"size:32"`
	BundleKey string         `gorm:"size:512"`
	Items     []BatchItem    `gorm:"constraint:OnDelete:CASCADE"`
}

// BatchItem 持久化批内单个任务的终态，与输入顺序一一对应。
// Once Status is terminal it is never updated again.
type BatchItem struct {
	gorm.Model
	BatchRunID  uint   `gorm:"index"`
	Position    int    `gorm:"index"`
	Name        string `gorm:"size:255"`
	Status      string `gorm:"size:32"`
	Attempts    int
	ArtifactKey string `gorm:"size:512"`
	Reason      string `gorm:"size:512"`
}

// Asset 表示用户上传、可被文档引用的图片资源。
type Asset struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	ObjectKey string `gorm:"uniqueIndex;size:512"`
	MimeType  string `gorm:"size:64"`
	SizeBytes int64
}

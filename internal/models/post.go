// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// Post represents a blog post managed through the admin panel.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Title       string    `gorm:"not null;index" json:"title"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Description string    `gorm:"type:text" json:"description"`
	// Cover is the upload path relative to the configured base path.
	Cover     string    `json:"cover"`
	Status    bool      `gorm:"not null;default:false;index" json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostPage is one page of an ordered post listing.
type PostPage struct {
	Items []Post   `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// PageMeta describes the position of a page within a listing. Page is 1-based.
type PageMeta struct {
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasPrev    bool  `json:"has_prev"`
	HasNext    bool  `json:"has_next"`
}

// NewPageMeta computes page metadata for a listing of total rows.
func NewPageMeta(page, size int, total int64) PageMeta {
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return PageMeta{
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
}

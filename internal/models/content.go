package models

import (
	"time"
)

// The types below are read models over tables owned by the content services
// (Q&A, posts, comments). The engine only counts rows in them.

// Question is a question asked on the Q&A surface.
type Question struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"size:64;not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Question model.
func (Question) TableName() string {
	return "questions"
}

// Answer is an answer to a question. PointsAwarded holds the acceptance reward, if any.
type Answer struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	QuestionID    string    `gorm:"size:64;not null;index" json:"question_id"`
	UserID        string    `gorm:"size:64;not null;index" json:"user_id"`
	Accepted      bool      `gorm:"not null;default:false" json:"accepted"`
	PointsAwarded int64     `gorm:"not null;default:0" json:"points_awarded"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName specifies the table name for Answer model.
func (Answer) TableName() string {
	return "answers"
}

// Post is a blog post with a denormalized like counter.
type Post struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	AuthorID  string    `gorm:"size:64;not null;index" json:"author_id"`
	LikeCount int64     `gorm:"not null;default:0" json:"like_count"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Post model.
func (Post) TableName() string {
	return "posts"
}

// Comment is a comment on a post.
type Comment struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	PostID    string    `gorm:"size:64;not null;index" json:"post_id"`
	UserID    string    `gorm:"size:64;not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Comment model.
func (Comment) TableName() string {
	return "comments"
}

// Account is the slice of the account record needed to send streak reminders.
type Account struct {
	ID              string `gorm:"primaryKey;size:64" json:"id"`
	Username        string `gorm:"size:255" json:"username"`
	Email           string `gorm:"size:255" json:"email"`
	StreakReminders bool   `gorm:"not null;default:true" json:"streak_reminders"`
}

// TableName specifies the table name for Account model.
func (Account) TableName() string {
	return "users"
}

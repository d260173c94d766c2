package model

import "time"

// TotalActivities is the fixed size of the activity catalog.
const TotalActivities = 50

// QRPrefix is the leading marker every valid activity code carries.
const QRPrefix = "CF26-"

type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

type Activity struct {
	Code  string
	Title string
}

type Completion struct {
	ID           int64
	UserID       string
	ActivityCode string
	CreatedAt    time.Time
}

// ProgressItem is one completed activity joined against the catalog,
// as shown on the dashboard and history views.
type ProgressItem struct {
	Code        string
	Title       string
	CompletedAt time.Time
}

// UserProgress is one row of the admin listing.
type UserProgress struct {
	Name  string
	Email string
	Count int64
}

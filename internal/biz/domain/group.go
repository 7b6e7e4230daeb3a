package domain

import "time"

// NotificationGroup is one smart-grouping cluster
type NotificationGroup struct {
	PackageName    string         `json:"package_name"`
	AppName        string         `json:"app_name"`
	GroupTimestamp time.Time      `json:"group_timestamp"` // Earliest member timestamp
	Count          int            `json:"count"`
	Latest         Notification   `json:"latest"`
	Members        []Notification `json:"members"` // Newest first
}

// AppGroup is a list header (app identity + count) with its notifications
type AppGroup struct {
	PackageName string         `json:"package_name"`
	AppName     string         `json:"app_name"`
	Count       int            `json:"count"`
	Members     []Notification `json:"members"` // Newest first
}

package model

import "time"

// BankExport is the top-level JSON structure for an attempt export.
type BankExport struct {
	ExportedAt time.Time        `json:"exported_at"`
	NumCases   int              `json:"num_cases"`
	NumUsers   int              `json:"num_users"`
	Records    []*AttemptRecord `json:"records"`
	Users      []ExportedUser   `json:"users"`
}

// ExportedUser holds the account data included in an export. Password
// hashes are never exported.
type ExportedUser struct {
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Role        UserRole `json:"role"`
	Active      bool     `json:"active"`
	Plans       []string `json:"plans"`
}

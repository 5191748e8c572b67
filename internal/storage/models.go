package storage

import "time"

type Snapshot struct {
	Key       string
	Payload   []byte
	UpdatedAt time.Time
}

type AuditEntry struct {
	ID         int64
	SessionKey string
	AccountID  string
	Action     string
	MetaJSON   string
	CreatedAt  time.Time
}

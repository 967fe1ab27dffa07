package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StringList stores a []string as a JSON text column. Works on both
// PostgreSQL and SQLite dialects.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported StringList source type %T", src)
	}
}

// ValidationResultModel maps to the "validation_results" table.
// No UpdatedAt or DeletedAt — result history is append-only and immutable.
type ValidationResultModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RunID             string     `gorm:"not null;index"`
	TargetPath        string     `gorm:"type:text;not null"`
	Passed            bool       `gorm:"not null;index"`
	StructuralInvalid bool       `gorm:"not null"`
	Errors            StringList `gorm:"type:text;not null;default:'[]'"`
	Warnings          StringList `gorm:"type:text;not null;default:'[]'"`
	Evidence          StringList `gorm:"type:text;not null;default:'[]'"`
	ExitCode          int        `gorm:"not null;default:0"`
	DurationMS        int64      `gorm:"not null;default:0"`
	TimedOut          bool       `gorm:"not null"`
	SecurityViolation bool       `gorm:"not null"`
	CostUSD           float64    `gorm:"type:numeric(14,6);not null;default:0"`
	CreatedAt         time.Time  `gorm:"index"`
}

func (ValidationResultModel) TableName() string { return "validation_results" }

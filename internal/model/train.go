package model

import (
	"fmt"
	"strings"
	"time"
)

// CarriageClass is the seating class of a carriage.
type CarriageClass string

const (
	ClassEconomy   CarriageClass = "ECONOMY"
	ClassBusiness  CarriageClass = "BUSINESS"
	ClassExecutive CarriageClass = "EXECUTIVE"
)

// Valid reports whether c is one of the known classes.
func (c CarriageClass) Valid() bool {
	switch c {
	case ClassEconomy, ClassBusiness, ClassExecutive:
		return true
	}
	return false
}

// ParseCarriageClass accepts class names in any letter case.
func ParseCarriageClass(s string) (CarriageClass, error) {
	c := CarriageClass(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &ValidationError{Field: "class", Reason: fmt.Sprintf("unknown carriage class %q", s)}
	}
	return c, nil
}

// Train is immutable reference data maintained by the admin collaborator.
type Train struct {
	ID        string    `json:"id"`         // trains.id
	Code      string    `json:"code"`       // trains.code (unique)
	Name      string    `json:"name"`       // trains.name
	Class     string    `json:"class"`      // trains.service_class
	CreatedAt time.Time `json:"created_at"` // trains.created_at
}

// Carriage belongs to one Train. Quota is the maximum number of seats the
// carriage may contain.
type Carriage struct {
	ID        string        `json:"id"`
	TrainID   string        `json:"train_id"`
	Number    int           `json:"number"`
	Class     CarriageClass `json:"class"`
	Quota     int           `json:"quota"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

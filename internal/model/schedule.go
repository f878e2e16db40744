package model

import "time"

// Schedule is one dated departure of a Train. Carriages holds value copies of
// the carriages taken when each one was attached, so later edits to a
// Carriage never change the layout of an existing Schedule.
type Schedule struct {
	ID          string     `json:"id"`
	TrainID     string     `json:"train_id"`
	TrainCode   string     `json:"train_code"`
	TrainName   string     `json:"train_name"`
	Origin      string     `json:"origin"`
	Destination string     `json:"destination"`
	DepartsAt   time.Time  `json:"departs_at"`
	ArrivesAt   time.Time  `json:"arrives_at"`
	Carriages   []Carriage `json:"carriages"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Carriage returns the snapshot of the attached carriage with the given id.
func (s *Schedule) Carriage(id string) (Carriage, bool) {
	for _, c := range s.Carriages {
		if c.ID == id {
			return c, true
		}
	}
	return Carriage{}, false
}

// Classes lists the distinct classes of the attached carriages in
// attachment order.
func (s *Schedule) Classes() []CarriageClass {
	seen := make(map[CarriageClass]bool, len(s.Carriages))
	var out []CarriageClass
	for _, c := range s.Carriages {
		if !seen[c.Class] {
			seen[c.Class] = true
			out = append(out, c.Class)
		}
	}
	return out
}

// Clone returns a copy that shares no slices with s.
func (s Schedule) Clone() Schedule {
	out := s
	out.Carriages = append([]Carriage(nil), s.Carriages...)
	return out
}

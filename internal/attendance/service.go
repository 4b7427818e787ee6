package attendance

import (
	"context"
	"errors"
	"time"
)

// Status of an attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Record is one user's attendance for one local calendar day.
type Record struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Date      time.Time  `json:"date"`
	Status    Status     `json:"status"`
	CheckIn   *time.Time `json:"checkIn"`
	CheckOut  *time.Time `json:"checkOut"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// State is the position of a (user, day) pair in the ledger state machine.
type State int

const (
	StateNone State = iota
	StateCheckedIn
	StateCheckedInOut
)

func (s State) String() string {
	switch s {
	case StateCheckedIn:
		return "CHECKED_IN"
	case StateCheckedInOut:
		return "CHECKED_IN_OUT"
	default:
		return "NONE"
	}
}

// State derives the ledger state from the record's timestamps. A nil record
// is StateNone.
func (r *Record) State() State {
	switch {
	case r == nil || r.CheckIn == nil:
		return StateNone
	case r.CheckOut == nil:
		return StateCheckedIn
	default:
		return StateCheckedInOut
	}
}

// Transition names the write applied by a positive match.
type Transition string

const (
	TransitionCheckIn       Transition = "check_in"
	TransitionCheckOut      Transition = "check_out"
	TransitionAlreadyMarked Transition = "already_marked"
)

// Outcome is the result of applying one positive match to the ledger.
type Outcome struct {
	Record     Record
	Transition Transition
}

// AlreadyMarked reports whether the day was already complete and nothing was
// written.
func (o Outcome) AlreadyMarked() bool { return o.Transition == TransitionAlreadyMarked }

// ListFilter narrows ListRecords. An empty UserID lists every user.
type ListFilter struct {
	UserID string
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store persists attendance records. ApplyMatch must be atomic per
// (userID, day): concurrent calls never create two records or two checkouts.
type Store interface {
	ApplyMatch(ctx context.Context, userID string, day, at time.Time) (Record, Transition, error)
	FindRecord(ctx context.Context, userID string, day time.Time) (*Record, error)
	ListRecords(ctx context.Context, f ListFilter) ([]Record, error)
}

// Service applies the check-in/check-out state machine on top of a Store.
type Service struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the timezone whose midnight separates days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a ledger service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DayOf returns local midnight of the day containing t.
func DayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Mark records a positive match for userID: NONE becomes CHECKED_IN,
// CHECKED_IN becomes CHECKED_IN_OUT, and a finished day is left untouched.
func (s *Service) Mark(ctx context.Context, userID string) (Outcome, error) {
	if userID == "" {
		return Outcome{}, errors.New("user id required")
	}
	now := s.now()
	rec, tr, err := s.store.ApplyMatch(ctx, userID, DayOf(now, s.loc), now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: rec, Transition: tr}, nil
}

// Today returns the caller's record for the current day, or nil.
func (s *Service) Today(ctx context.Context, userID string) (*Record, error) {
	return s.store.FindRecord(ctx, userID, DayOf(s.now(), s.loc))
}

// List returns records newest day first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListRecords(ctx, f)
}

// Location returns the day-boundary timezone.
func (s *Service) Location() *time.Location { return s.loc }

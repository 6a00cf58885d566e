package model

import (
	"fmt"
	"sync"
	"time"
)

type Tenant struct {
	ID   string
	Name string
	// Timezone is an IANA zone name; wall-clock rules are evaluated in it.
	Timezone string
	// IsSolo marks single-professional accounts that may fall back to
	// tenant-level availability rules.
	IsSolo bool
}

// Location returns the tenant's zone, or UTC when Timezone is empty or
// unknown. Use LoadZone to surface unknown names.
func (t Tenant) Location() *time.Location {
	loc, err := LoadZone(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var zones sync.Map

// LoadZone resolves an IANA zone name, caching successful lookups. An empty
// name is UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	if loc, ok := zones.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	zones.Store(name, loc)
	return loc, nil
}

type Professional struct {
	ID       string
	TenantID string
	Name     string
	Active   bool
}

type Customer struct {
	ID       string
	TenantID string
	Name     string
	Email    string
	Phone    string
}

type Service struct {
	ID              string
	TenantID        string
	Name            string
	DurationMinutes int
	Active          bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// AvailabilityRule is one working or break interval on a weekday, expressed in
// minutes since local midnight. An empty ProfessionalID marks a tenant-level rule.
type AvailabilityRule struct {
	TenantID       string
	ProfessionalID string
	Weekday        time.Weekday
	Sequence       int
	StartMinute    int
	EndMinute      int
	IsBreak        bool
}

type Integration struct {
	TenantID     string
	Provider     string
	Active       bool
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	AccountLabel string
	// CalendarID is the provider-side target: a calendar id for Google, an
	// event type URI for Calendly.
	CalendarID string
}

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/outbox"
)

func appt(id string, start time.Time, status model.Status) model.Appointment {
	return model.Appointment{
		ID:             id,
		TenantID:       "t1",
		CustomerID:     "c1",
		ProfessionalID: "p1",
		ServiceID:      "s1",
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		Status:         status,
	}
}

func TestMemoryRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	err := m.InTx(ctx, func(tx Tx) error { return tx.InsertAppointment(ctx, appt("a", base, model.StatusConfirmed)) })
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = m.InTx(ctx, func(tx Tx) error {
		return tx.InsertAppointment(ctx, appt("b", base.Add(30*time.Minute), model.StatusConfirmed))
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// Back-to-back is fine.
	err = m.InTx(ctx, func(tx Tx) error { return tx.InsertAppointment(ctx, appt("c", base.Add(time.Hour), model.StatusPending)) })
	if err != nil {
		t.Fatalf("adjacent insert: %v", err)
	}
}

func TestMemoryRollbackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := m.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertAppointment(ctx, appt("a", base, model.StatusConfirmed)); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, outbox.Event{EventType: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := m.GetAppointment(ctx, "a"); !IsNotFound(err) {
		t.Fatalf("expected rolled back appointment, got %v", err)
	}
	if len(m.Events()) != 0 {
		t.Fatal("expected no committed events")
	}
}

func TestMemoryCancelledFreesInterval(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	err := m.InTx(ctx, func(tx Tx) error {
		old := appt("old", base, model.StatusConfirmed)
		if err := tx.InsertAppointment(ctx, old); err != nil {
			return err
		}
		old.Status = model.StatusCancelled
		if err := tx.UpdateAppointment(ctx, old); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, appt("new", base, model.StatusConfirmed))
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	active, _ := m.ListActiveInRange(ctx, "p1", base, base.Add(time.Hour))
	if len(active) != 1 || active[0].ID != "new" {
		t.Fatalf("unexpected active set %+v", active)
	}
}

func TestMemoryConcurrentInsertsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := appt(string(rune('a'+i)), base.Add(time.Duration(i%3)*15*time.Minute), model.StatusConfirmed)
			if err := m.InTx(ctx, func(tx Tx) error { return tx.InsertAppointment(ctx, a) }); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryExternalRefsKeepUpdatedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := appt("a", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), model.StatusConfirmed)
	a.UpdatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = m.InTx(ctx, func(tx Tx) error { return tx.InsertAppointment(ctx, a) })

	if err := m.SetExternalRef(ctx, "a", "google", "evt-1"); err != nil {
		t.Fatalf("SetExternalRef: %v", err)
	}
	got, _ := m.GetAppointment(ctx, "a")
	if got.ExternalRefs["google"] != "evt-1" || !got.UpdatedAt.Equal(a.UpdatedAt) {
		t.Fatalf("unexpected appointment %+v", got)
	}
	if err := m.SetExternalRef(ctx, "missing", "google", "x"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := m.SetExternalRef(ctx, "a", "google", ""); err != nil {
		t.Fatalf("clear ref: %v", err)
	}
	got, _ = m.GetAppointment(ctx, "a")
	if _, ok := got.ExternalRefs["google"]; ok {
		t.Fatalf("expected google ref dropped, got %v", got.ExternalRefs)
	}
}

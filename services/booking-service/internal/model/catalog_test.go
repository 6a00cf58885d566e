package model

import (
	"testing"
	"time"
)

func TestLoadZoneCachesLocations(t *testing.T) {
	first, err := LoadZone("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	second, err := LoadZone("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	if first != second {
		t.Fatal("expected the cached *time.Location to be reused")
	}
	if loc := (Tenant{Timezone: "Europe/Berlin"}).Location(); loc != first {
		t.Fatalf("Location() = %v, want cached Europe/Berlin", loc)
	}
}

func TestLoadZoneRejectsUnknownNames(t *testing.T) {
	if _, err := LoadZone("Mars/Olympus_Mons"); err == nil {
		t.Fatal("expected an error for an unknown zone")
	}
	if loc := (Tenant{Timezone: "Mars/Olympus_Mons"}).Location(); loc != time.UTC {
		t.Fatalf("Location() = %v, want UTC", loc)
	}
	if loc, err := LoadZone(""); err != nil || loc != time.UTC {
		t.Fatalf("empty zone = %v, %v; want UTC", loc, err)
	}
}

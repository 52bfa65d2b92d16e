package session

import (
	"reflect"
	"testing"
)

func TestFieldsRoundTrip(t *testing.T) {
	orig := Session{
		UID:    "u1",
		Email:  "a@x.com",
		Img:    "https://cdn.example/a.png",
		QRCode: "a@x.com",
		Attendance: []SeedEntry{
			{Clase: "", Fecha: "2024-01-01T00:00:00Z", Email: "a@x.com", Img: "https://cdn.example/a.png"},
		},
		Records: []Record{
			{Seccion: "Math101", Code: "CODE1", Fecha: "2024-01-01", Asistencia: true},
			{Seccion: "Phys201", Code: "CODE9", Fecha: "2024-01-02", Asistencia: false},
		},
		Extra: map[string]any{"campus": "north"},
	}

	got := fromFields(orig.UID, toFields(&orig))
	if !reflect.DeepEqual(got, orig) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, orig)
	}
}

func TestFromFieldsToleratesMalformedEntries(t *testing.T) {
	fields := map[string]any{
		"email": "a@x.com",
		"qrRecords": []any{
			map[string]any{"seccion": "Math101", "code": "C1", "fecha": "2024-01-01", "asistencia": true},
			"not a record",
			map[string]any{"seccion": 42},
		},
		"attendance": "not an array",
	}
	got := fromFields("u1", fields)
	if len(got.Records) != 2 {
		t.Fatalf("expected 2 parsed records, got %d", len(got.Records))
	}
	if got.Records[1].Seccion != "" {
		t.Fatalf("expected non-string seccion to degrade to empty, got %q", got.Records[1].Seccion)
	}
	if got.Attendance != nil {
		t.Fatalf("expected no seed entries, got %+v", got.Attendance)
	}
}

func TestSameScanIgnoresFlag(t *testing.T) {
	a := Record{Seccion: "Math101", Code: "C1", Fecha: "2024-01-01", Asistencia: true}
	b := Record{Seccion: "Math101", Code: "C1", Fecha: "2024-01-01", Asistencia: false}
	c := Record{Seccion: "Math101", Code: "C2", Fecha: "2024-01-01", Asistencia: true}
	if !a.SameScan(b) {
		t.Fatal("records differing only in flag must collide")
	}
	if a.SameScan(c) {
		t.Fatal("records with different codes must not collide")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &Session{
		UID:     "u1",
		Records: []Record{{Seccion: "Math101"}},
		Extra:   map[string]any{"campus": "north"},
	}
	clone := orig.Clone()
	clone.Records[0].Seccion = "changed"
	clone.Extra["campus"] = "south"
	if orig.Records[0].Seccion != "Math101" || orig.Extra["campus"] != "north" {
		t.Fatal("clone shares state with the original")
	}
	var nilSession *Session
	if nilSession.Clone() != nil {
		t.Fatal("clone of nil must be nil")
	}
}

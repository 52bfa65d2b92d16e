// Package session owns the current-user state of the app: who is signed
// in, the durable local copy of that fact, and the stream of changes that
// guards and views consume. All mutation flows through the Store; everyone
// else sees snapshots.
package session

import "time"

// UsersCollection is the document-store collection profiles live under,
// keyed by principal UID.
const UsersCollection = "users"

// PlaceholderImg is the avatar written at sign-up when none is supplied.
const PlaceholderImg = "https://res.cloudinary.com/app-mobile/image/upload/v1/avatars/placeholder.png"

// Session is a snapshot of the authenticated principal. Well-known profile
// fields are typed; anything else the backend stores rides in Extra.
type Session struct {
	UID        string         `json:"uid"`
	Email      string         `json:"email"`
	Img        string         `json:"img"`
	QRCode     string         `json:"qrCode"`
	Attendance []SeedEntry    `json:"attendance,omitempty"`
	Records    []Record       `json:"qrRecords,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// SeedEntry is the initial attendance row written into a new profile.
type SeedEntry struct {
	Clase string `json:"clase"`
	Fecha string `json:"fecha"`
	Email string `json:"email"`
	Img   string `json:"img"`
}

// Record is one QR scan event. Two records are duplicates when seccion,
// code, and fecha all match; the asistencia flag is not part of the key.
type Record struct {
	Seccion    string `json:"seccion"`
	Code       string `json:"code"`
	Fecha      string `json:"fecha"`
	Asistencia bool   `json:"asistencia"`
}

// SameScan reports whether other collides with r under the duplicate key.
func (r Record) SameScan(other Record) bool {
	return r.Seccion == other.Seccion && r.Code == other.Code && r.Fecha == other.Fecha
}

// ProfileDefaults carries the optional extras a caller may pass to SignUp.
type ProfileDefaults struct {
	Img        string
	Attendance []SeedEntry
}

// Clone returns an independent deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Attendance = append([]SeedEntry(nil), s.Attendance...)
	out.Records = append([]Record(nil), s.Records...)
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

var knownFields = map[string]bool{
	"email":      true,
	"img":        true,
	"qrCode":     true,
	"attendance": true,
	"qrRecords":  true,
}

// toFields flattens a session into document-store fields. The UID is the
// document id, never a field.
func toFields(s *Session) map[string]any {
	fields := map[string]any{
		"email":  s.Email,
		"img":    s.Img,
		"qrCode": s.QRCode,
	}
	seed := make([]any, 0, len(s.Attendance))
	for _, e := range s.Attendance {
		seed = append(seed, map[string]any{
			"clase": e.Clase,
			"fecha": e.Fecha,
			"email": e.Email,
			"img":   e.Img,
		})
	}
	fields["attendance"] = seed
	if len(s.Records) > 0 {
		recs := make([]any, 0, len(s.Records))
		for _, r := range s.Records {
			recs = append(recs, r.fields())
		}
		fields["qrRecords"] = recs
	}
	for k, v := range s.Extra {
		if !knownFields[k] {
			fields[k] = v
		}
	}
	return fields
}

// fromFields rebuilds a session from document-store fields.
func fromFields(uid string, fields map[string]any) Session {
	s := Session{
		UID:    uid,
		Email:  asString(fields["email"]),
		Img:    asString(fields["img"]),
		QRCode: asString(fields["qrCode"]),
	}
	if seed, ok := fields["attendance"].([]any); ok {
		for _, raw := range seed {
			if m, ok := raw.(map[string]any); ok {
				s.Attendance = append(s.Attendance, SeedEntry{
					Clase: asString(m["clase"]),
					Fecha: asString(m["fecha"]),
					Email: asString(m["email"]),
					Img:   asString(m["img"]),
				})
			}
		}
	}
	s.Records = recordsFromFields(fields)
	for k, v := range fields {
		if knownFields[k] {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[k] = v
	}
	return s
}

// recordsFromFields extracts the qrRecords array; absent or malformed
// entries degrade to nothing rather than failing.
func recordsFromFields(fields map[string]any) []Record {
	raw, ok := fields["qrRecords"].([]any)
	if !ok {
		return nil
	}
	recs := make([]Record, 0, len(raw))
	for _, elem := range raw {
		m, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		recs = append(recs, Record{
			Seccion:    asString(m["seccion"]),
			Code:       asString(m["code"]),
			Fecha:      asString(m["fecha"]),
			Asistencia: asBool(m["asistencia"]),
		})
	}
	return recs
}

func (r Record) fields() map[string]any {
	return map[string]any{
		"seccion":    r.Seccion,
		"code":       r.Code,
		"fecha":      r.Fecha,
		"asistencia": r.Asistencia,
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// nowRFC3339 formats the wall clock the way seed entries store dates.
func nowRFC3339(now func() time.Time) string {
	return now().UTC().Format(time.RFC3339)
}

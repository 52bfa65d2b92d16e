package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ChequedMetal/App-Mobile/internal/cache"
	"github.com/ChequedMetal/App-Mobile/internal/docstore"
	"github.com/ChequedMetal/App-Mobile/internal/metrics"
	"github.com/ChequedMetal/App-Mobile/internal/provider"
)

// Target names a navigation destination the store may signal.
type Target string

// Navigation targets.
const (
	TargetLogin Target = "login"
	TargetHome  Target = "home"
)

// Navigator receives navigation signals: back to home after sign-out,
// to the sign-in area on unauthenticated attendance calls.
type Navigator interface {
	Navigate(target Target, returnTo string)
}

// Notice classifies a user-visible notification.
type Notice string

// Notices raised by RecordAttendance.
const (
	NoticeRecorded  Notice = "recorded"
	NoticeDuplicate Notice = "duplicate"
)

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(notice Notice, text string)
}

// ScanOutcome is the result of RecordAttendance.
type ScanOutcome int

const (
	// ScanRecorded means the record was appended.
	ScanRecorded ScanOutcome = iota
	// ScanDuplicate means an identical (seccion, code, fecha) record
	// already existed; nothing was written.
	ScanDuplicate
	// ScanFailed means the backend read or write failed; the failure was
	// logged and the scan dropped without disturbing the session.
	ScanFailed
)

// Store is the single owner of the current-user value. It keeps three
// representations consistent, strictly in this order on every transition:
// in-memory value, durable cache, then subscribers.
type Store struct {
	provider provider.Provider
	docs     docstore.Store
	cache    cache.Cache
	nav      Navigator
	notify   Notifier
	now      func() time.Time

	mu      sync.Mutex
	cur     *Session
	loaded  bool
	subs    map[int]chan *Session
	nextSub int
}

// New wires a store. Navigator and Notifier may be nil; signals are then
// logged only.
func New(p provider.Provider, docs docstore.Store, c cache.Cache, nav Navigator, notify Notifier) *Store {
	if nav == nil {
		nav = logNavigator{}
	}
	if notify == nil {
		notify = logNotifier{}
	}
	return &Store{
		provider: p,
		docs:     docs,
		cache:    c,
		nav:      nav,
		notify:   notify,
		now:      time.Now,
		subs:     make(map[int]chan *Session),
	}
}

// Run consumes the provider's auth-state notifications until ctx ends.
// The provider-level listener is attached here and released on return;
// this is the store's only listener regardless of subscriber count.
func (s *Store) Run(ctx context.Context) {
	states, cancel := s.provider.States()
	defer cancel()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return
			}
			s.reconcile(ctx, st)
		case <-ctx.Done():
			return
		}
	}
}

// Current returns a snapshot of the present session, or nil. The first
// call after process start falls back to the durable cache.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return s.cur.Clone()
}

// Subscribe produces a stream of session values. The channel first yields
// the most recently known value (possibly nil), then every subsequent
// change. The cancel func removes the observer and closes the channel.
func (s *Store) Subscribe() (<-chan *Session, func()) {
	s.mu.Lock()
	s.ensureLoadedLocked()
	id := s.nextSub
	s.nextSub++
	ch := make(chan *Session, 8)
	ch <- s.cur.Clone()
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SignIn authenticates against the provider, loads the profile document,
// and installs the merged session. The prior session is untouched on any
// failure.
func (s *Store) SignIn(ctx context.Context, email, password string) (*Session, error) {
	uid, err := s.provider.SignIn(ctx, provider.Credential{Email: email, Password: password})
	if err != nil {
		metrics.SignInFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if uid == "" {
		metrics.SignInFailures.WithLabelValues("no_uid").Inc()
		return nil, fmt.Errorf("sign in: provider returned no principal id")
	}

	doc, err := s.docs.Get(ctx, UsersCollection, uid)
	if err != nil {
		metrics.SignInFailures.WithLabelValues("profile_read").Inc()
		return nil, fmt.Errorf("load profile %s: %w", uid, err)
	}
	if !doc.Exists {
		metrics.SignInFailures.WithLabelValues(failureReason(ErrProfileNotFound)).Inc()
		return nil, ErrProfileNotFound
	}

	sess := fromFields(uid, doc.Fields)
	s.setSession(ctx, &sess)
	metrics.SignIns.Inc()
	return sess.Clone(), nil
}

// SignUp creates a new principal, writes its initial profile document,
// and installs it as the current session. A missing image defaults to the
// placeholder avatar; the profile is seeded with one empty attendance
// entry unless the caller provides its own.
func (s *Store) SignUp(ctx context.Context, email, password string, defaults ProfileDefaults) (*Session, error) {
	uid, err := s.provider.SignUp(ctx, provider.Credential{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	img := defaults.Img
	if img == "" {
		img = PlaceholderImg
	}
	seed := defaults.Attendance
	if len(seed) == 0 {
		seed = []SeedEntry{{
			Clase: "",
			Fecha: nowRFC3339(s.now),
			Email: email,
			Img:   img,
		}}
	}
	sess := Session{
		UID:        uid,
		Email:      email,
		Img:        img,
		QRCode:     email,
		Attendance: seed,
	}

	if err := s.docs.Set(ctx, UsersCollection, uid, toFields(&sess)); err != nil {
		return nil, fmt.Errorf("write profile %s: %w", uid, err)
	}

	s.setSession(ctx, &sess)
	metrics.SignUps.Inc()
	return sess.Clone(), nil
}

// RecordAttendance appends one scan to the user's record collection unless
// an identical (seccion, code, fecha) record already exists. Backend
// failures are logged and degrade to ScanFailed; the only error returned
// is ErrNotAuthenticated, which also signals a redirect to sign-in.
func (s *Store) RecordAttendance(ctx context.Context, seccion, code, fecha string, asistencia bool) (ScanOutcome, error) {
	cur := s.Current()
	if cur == nil {
		log.Println("session: attendance scan with no user, redirecting to login")
		s.nav.Navigate(TargetLogin, "")
		return ScanFailed, ErrNotAuthenticated
	}

	doc, err := s.docs.Get(ctx, UsersCollection, cur.UID)
	if err != nil {
		log.Printf("session: read records for %s failed: %v", cur.UID, err)
		return ScanFailed, nil
	}

	rec := Record{Seccion: seccion, Code: code, Fecha: fecha, Asistencia: asistencia}
	for _, have := range recordsFromFields(doc.Fields) {
		if have.SameScan(rec) {
			s.notify.Notify(NoticeDuplicate, "You have already recorded this attendance.")
			metrics.ScansDuplicate.Inc()
			return ScanDuplicate, nil
		}
	}

	err = s.docs.Update(ctx, UsersCollection, cur.UID, map[string]any{
		"qrRecords": docstore.Union(rec.fields()),
	})
	if err != nil {
		log.Printf("session: append record for %s failed: %v", cur.UID, err)
		return ScanFailed, nil
	}

	s.notify.Notify(NoticeRecorded, "Attendance recorded successfully.")
	metrics.ScansRecorded.Inc()
	return ScanRecorded, nil
}

// FetchAttendance returns the user's scan records, oldest first. A missing
// or unreadable document degrades to an empty slice.
func (s *Store) FetchAttendance(ctx context.Context) ([]Record, error) {
	cur := s.Current()
	if cur == nil {
		log.Println("session: attendance fetch with no user, redirecting to login")
		s.nav.Navigate(TargetLogin, "")
		return nil, ErrNotAuthenticated
	}

	doc, err := s.docs.Get(ctx, UsersCollection, cur.UID)
	if err != nil {
		log.Printf("session: read records for %s failed: %v", cur.UID, err)
		return []Record{}, nil
	}
	recs := recordsFromFields(doc.Fields)
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// RequestPasswordReset asks the provider to dispatch a reset challenge.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.provider.SendPasswordReset(ctx, email); err != nil {
		return fmt.Errorf("%w: %v", ErrResetDelivery, err)
	}
	return nil
}

// SignOut clears the session everywhere and signals navigation home.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		log.Printf("session: provider sign-out failed: %v", err)
	}
	s.setSession(ctx, nil)
	s.nav.Navigate(TargetHome, "")
	return nil
}

// RefreshProfile re-reads the profile document for the current principal
// and installs the fresh snapshot. Used after out-of-band profile writes
// such as an avatar upload.
func (s *Store) RefreshProfile(ctx context.Context) (*Session, error) {
	cur := s.Current()
	if cur == nil {
		return nil, ErrNotAuthenticated
	}
	doc, err := s.docs.Get(ctx, UsersCollection, cur.UID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", cur.UID, err)
	}
	if !doc.Exists {
		return nil, ErrProfileNotFound
	}
	sess := fromFields(cur.UID, doc.Fields)
	s.setSession(ctx, &sess)
	return sess.Clone(), nil
}

// reconcile applies one provider auth-state notification.
func (s *Store) reconcile(ctx context.Context, st provider.State) {
	if !st.Present {
		s.mu.Lock()
		s.ensureLoadedLocked()
		wasPresent := s.cur != nil
		s.mu.Unlock()
		if wasPresent {
			s.setSession(ctx, nil)
		}
		return
	}

	s.mu.Lock()
	s.ensureLoadedLocked()
	same := s.cur != nil && s.cur.UID == st.UID
	s.mu.Unlock()
	if same {
		return
	}

	doc, err := s.docs.Get(ctx, UsersCollection, st.UID)
	if err != nil {
		log.Printf("session: reconcile read profile %s failed: %v", st.UID, err)
		return
	}
	sess := fromFields(st.UID, doc.Fields)
	s.setSession(ctx, &sess)
}

// setSession installs a new value: memory first, then durable cache, then
// subscribers. Publishing happens under the store lock so observers never
// see interleaved partial transitions.
func (s *Store) setSession(ctx context.Context, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = sess
	s.loaded = true

	if sess == nil {
		if err := s.cache.Clear(ctx); err != nil {
			log.Printf("session: clear cache failed: %v", err)
		}
	} else if blob, err := json.Marshal(sess); err != nil {
		log.Printf("session: encode for cache failed: %v", err)
	} else if err := s.cache.Save(ctx, blob); err != nil {
		log.Printf("session: save cache failed: %v", err)
	}

	for _, ch := range s.subs {
		select {
		case ch <- sess.Clone():
		default:
			// Observer is not draining; it keeps its backlog and misses
			// this transition.
		}
	}
}

// ensureLoadedLocked performs the one-time cold-start read of the durable
// cache. Callers hold s.mu.
func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	blob, err := s.cache.Load(context.Background())
	if err != nil {
		log.Printf("session: load cache failed: %v", err)
		return
	}
	if len(blob) == 0 {
		return
	}
	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		log.Printf("session: decode cached session failed: %v", err)
		return
	}
	s.cur = &sess
}

type logNavigator struct{}

func (logNavigator) Navigate(target Target, returnTo string) {
	if returnTo != "" {
		log.Printf("session: navigate to %s (return to %s)", target, returnTo)
		return
	}
	log.Printf("session: navigate to %s", target)
}

type logNotifier struct{}

func (logNotifier) Notify(notice Notice, text string) {
	log.Printf("session: notice %s: %s", notice, text)
}

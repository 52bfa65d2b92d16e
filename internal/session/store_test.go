package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ChequedMetal/App-Mobile/internal/cache"
	"github.com/ChequedMetal/App-Mobile/internal/docstore"
	"github.com/ChequedMetal/App-Mobile/internal/provider"
)

type recordingNavigator struct {
	mu      sync.Mutex
	targets []Target
}

func (n *recordingNavigator) Navigate(target Target, returnTo string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
}

func (n *recordingNavigator) last() Target {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.targets) == 0 {
		return ""
	}
	return n.targets[len(n.targets)-1]
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

type fixture struct {
	prov   *provider.Memory
	docs   *docstore.Memory
	cache  *cache.Memory
	nav    *recordingNavigator
	notify *recordingNotifier
	store  *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		prov:   provider.NewMemory(4), // bcrypt.MinCost, keeps tests fast
		docs:   docstore.NewMemory(),
		cache:  cache.NewMemory(),
		nav:    &recordingNavigator{},
		notify: &recordingNotifier{},
	}
	f.store = New(f.prov, f.docs, f.cache, f.nav, f.notify)
	return f
}

func TestSignUpSeedsProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if sess.UID == "" {
		t.Fatal("expected a principal uid")
	}
	if sess.Img != PlaceholderImg {
		t.Fatalf("expected placeholder img, got %q", sess.Img)
	}
	if sess.QRCode != "a@x.com" {
		t.Fatalf("expected qrCode to be the email, got %q", sess.QRCode)
	}
	if len(sess.Attendance) != 1 || sess.Attendance[0].Clase != "" {
		t.Fatalf("expected one seeded attendance entry with empty clase, got %+v", sess.Attendance)
	}

	doc, err := f.docs.Get(ctx, UsersCollection, sess.UID)
	if err != nil || !doc.Exists {
		t.Fatalf("expected profile document, exists=%v err=%v", doc.Exists, err)
	}
	if doc.Fields["email"] != "a@x.com" {
		t.Fatalf("unexpected email field: %v", doc.Fields["email"])
	}
}

func TestSignInLoadsProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := f.store.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	sess, err := f.store.SignIn(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if sess.UID != created.UID {
		t.Fatalf("expected uid %s, got %s", created.UID, sess.UID)
	}
	if cur := f.store.Current(); cur == nil || cur.UID != created.UID {
		t.Fatalf("expected current session for %s, got %+v", created.UID, cur)
	}
}

func TestSignInRejectionLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := f.store.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	if _, err := f.store.SignIn(ctx, "a@x.com", "wrong-pass"); !errors.Is(err, provider.ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if cur := f.store.Current(); cur != nil {
		t.Fatalf("expected no session after rejected sign-in, got %+v", cur)
	}

	if _, err := f.store.SignIn(ctx, "nobody@x.com", "secret1"); !errors.Is(err, provider.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSignInWithoutProfileDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Account exists at the provider but no profile document was written.
	if _, err := f.prov.SignUp(ctx, provider.Credential{Email: "ghost@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("provider SignUp failed: %v", err)
	}
	if _, err := f.store.SignIn(ctx, "ghost@x.com", "secret1"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if cur := f.store.Current(); cur != nil {
		t.Fatalf("expected no session, got %+v", cur)
	}
}

func TestRecordAttendanceDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	outcome, err := f.store.RecordAttendance(ctx, "Math101", "CODE1", "2024-01-01", true)
	if err != nil || outcome != ScanRecorded {
		t.Fatalf("first scan: outcome=%v err=%v", outcome, err)
	}
	outcome, err = f.store.RecordAttendance(ctx, "Math101", "CODE1", "2024-01-01", true)
	if err != nil || outcome != ScanDuplicate {
		t.Fatalf("second scan: outcome=%v err=%v", outcome, err)
	}

	records, err := f.store.FetchAttendance(ctx)
	if err != nil {
		t.Fatalf("FetchAttendance failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(records))
	}

	notices := f.notify.all()
	want := []Notice{NoticeRecorded, NoticeDuplicate}
	if !reflect.DeepEqual(notices, want) {
		t.Fatalf("expected notices %v, got %v", want, notices)
	}
}

func TestRecordAttendanceFlagNotPartOfDuplicateKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if outcome, _ := f.store.RecordAttendance(ctx, "Math101", "CODE1", "2024-01-01", true); outcome != ScanRecorded {
		t.Fatalf("first scan not recorded: %v", outcome)
	}
	// Same seccion+code+fecha with a different flag is still a duplicate.
	if outcome, _ := f.store.RecordAttendance(ctx, "Math101", "CODE1", "2024-01-01", false); outcome != ScanDuplicate {
		t.Fatalf("expected duplicate regardless of flag, got %v", outcome)
	}
}

func TestRecordAttendanceUnauthenticated(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.store.RecordAttendance(context.Background(), "Math101", "CODE1", "2024-01-01", true)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if outcome != ScanFailed {
		t.Fatalf("expected ScanFailed, got %v", outcome)
	}
	if f.nav.last() != TargetLogin {
		t.Fatalf("expected redirect to login, got %q", f.nav.last())
	}
}

func TestFetchAttendanceEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	records, err := f.store.FetchAttendance(ctx)
	if err != nil {
		t.Fatalf("FetchAttendance failed: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", records)
	}
}

func TestSignOutClearsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := f.store.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	if cur := f.store.Current(); cur != nil {
		t.Fatalf("expected no session after sign-out, got %+v", cur)
	}
	blob, err := f.cache.Load(ctx)
	if err != nil {
		t.Fatalf("cache load failed: %v", err)
	}
	if blob != nil {
		t.Fatalf("expected empty cache after sign-out, got %q", blob)
	}
	if f.nav.last() != TargetHome {
		t.Fatalf("expected navigation home, got %q", f.nav.last())
	}
}

func TestCacheRoundTripAcrossRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{Img: "https://cdn.example/me.png"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	// A second store over the same durable cache stands in for a process
	// restart before any provider notification arrives.
	restarted := New(provider.NewMemory(4), f.docs, f.cache, nil, nil)
	cur := restarted.Current()
	if cur == nil {
		t.Fatal("expected cached session after restart")
	}
	if !reflect.DeepEqual(cur, sess) {
		t.Fatalf("cached session differs:\n got %+v\nwant %+v", cur, sess)
	}
}

func TestSubscribeEmitsLatestThenChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch, cancel := f.store.Subscribe()
	defer cancel()

	if first := <-ch; first != nil {
		t.Fatalf("expected initial nil emission, got %+v", first)
	}

	sess, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	select {
	case got := <-ch:
		if got == nil || got.UID != sess.UID {
			t.Fatalf("expected emission for %s, got %+v", sess.UID, got)
		}
	case <-time.After(time.Second):
		t.Fatal("no emission after sign-up")
	}

	if err := f.store.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	select {
	case got := <-ch:
		if got != nil {
			t.Fatalf("expected nil emission after sign-out, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no emission after sign-out")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	f := newFixture(t)

	ch, cancel := f.store.Subscribe()
	<-ch
	cancel()
	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}
	// Cancelling twice is harmless.
	cancel()
}

func TestRunReconcilesProviderState(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := f.store.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	go f.store.Run(ctx)

	// Provider-side sign-in (outside the store) must move the store to
	// Authenticated with the profile loaded.
	if _, err := f.prov.SignIn(ctx, provider.Credential{Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("provider SignIn failed: %v", err)
	}
	waitFor(t, func() bool {
		cur := f.store.Current()
		return cur != nil && cur.UID == sess.UID
	}, "store to pick up provider sign-in")

	// Provider-side sign-out must clear the store.
	if err := f.prov.SignOut(ctx); err != nil {
		t.Fatalf("provider SignOut failed: %v", err)
	}
	waitFor(t, func() bool {
		return f.store.Current() == nil
	}, "store to pick up provider sign-out")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRequestPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.SignUp(ctx, "a@x.com", "secret1", ProfileDefaults{}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := f.store.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	err := f.store.RequestPasswordReset(ctx, "nobody@x.com")
	if !errors.Is(err, ErrResetDelivery) {
		t.Fatalf("expected ErrResetDelivery, got %v", err)
	}
}

func TestUserMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{provider.ErrWrongPassword, "The password is incorrect. Try again."},
		{provider.ErrEmailInUse, "That email is already in use. Try another one."},
		{ErrNotAuthenticated, "You need to sign in first."},
		{errors.New("backend exploded"), "Something went wrong. Try again."},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.err); got != tc.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

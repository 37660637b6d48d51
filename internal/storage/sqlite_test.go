package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("applied migrations = %v, want 3 entries", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_session_messages_session", "idx_sessions_user", "idx_jobs_status_run_after", "idx_documents_user"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s missing", idx)
		}
	}
}

// --- Profiles ---

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)

	data := `{"user_name":"ada","interests":["math"],"skills":[],"topics":[],"personality_traits":[]}`
	if err := s.PutProfile("ada", data); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}

	rec, err := s.GetProfile("ada")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if rec.Data != data {
		t.Errorf("Data = %q, want %q", rec.Data, data)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: %+v", rec)
	}
}

func TestPutProfile_OverwritesWholeRecord(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutProfile("ada", `{"v":1}`); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}
	if err := s.PutProfile("ada", `{"v":2}`); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}

	rec, err := s.GetProfile("ada")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if rec.Data != `{"v":2}` {
		t.Errorf("Data = %q, want second write", rec.Data)
	}
}

func TestProfilesAreKeyedPerUser(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutProfile("ada", `{"who":"ada"}`); err != nil {
		t.Fatalf("PutProfile ada: %v", err)
	}
	if err := s.PutProfile("bob", `{"who":"bob"}`); err != nil {
		t.Fatalf("PutProfile bob: %v", err)
	}

	rec, err := s.GetProfile("ada")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if rec.Data != `{"who":"ada"}` {
		t.Errorf("ada's record was overwritten: %q", rec.Data)
	}

	names, err := s.ListProfileNames()
	if err != nil {
		t.Fatalf("ListProfileNames: %v", err)
	}
	if len(names) != 2 || names[0] != "ada" || names[1] != "bob" {
		t.Errorf("names = %v, want [ada bob]", names)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetProfile("nobody"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteProfile(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutProfile("ada", `{}`); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}
	if err := s.DeleteProfile("ada"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if err := s.DeleteProfile("ada"); err != ErrNotFound {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

// --- Sessions ---

func TestUpdateProfile(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutProfile("alice", `{"interests":[]}`); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateProfile("alice", func(data string) (string, error) {
		if data != `{"interests":[]}` {
			t.Errorf("fn saw %q", data)
		}
		return `{"interests":["chess"]}`, nil
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	rec, _ := s.GetProfile("alice")
	if rec.Data != `{"interests":["chess"]}` {
		t.Errorf("data = %q after update", rec.Data)
	}

	abort := fmt.Errorf("abort")
	err = s.UpdateProfile("alice", func(string) (string, error) { return "", abort })
	if err != abort {
		t.Errorf("err = %v, want fn error returned unchanged", err)
	}
	rec, _ = s.GetProfile("alice")
	if rec.Data != `{"interests":["chess"]}` {
		t.Errorf("data = %q, aborted update must not write", rec.Data)
	}

	// The connection must be usable again after a rollback.
	if err := s.PutProfile("bob", `{}`); err != nil {
		t.Fatalf("PutProfile after rollback: %v", err)
	}

	err = s.UpdateProfile("nobody", func(string) (string, error) { return "{}", nil })
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateProfileIfMissing(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateProfileIfMissing("alice", `{"skills":[]}`)
	if err != nil {
		t.Fatalf("CreateProfileIfMissing: %v", err)
	}
	if !created {
		t.Error("created = false for a new user")
	}

	if err := s.PutProfile("alice", `{"skills":["go"]}`); err != nil {
		t.Fatal(err)
	}
	rev, _ := s.ProfileRevision()
	created, err = s.CreateProfileIfMissing("alice", `{"skills":[]}`)
	if err != nil {
		t.Fatalf("CreateProfileIfMissing: %v", err)
	}
	if created {
		t.Error("created = true for an existing user")
	}
	rec, _ := s.GetProfile("alice")
	if rec.Data != `{"skills":["go"]}` {
		t.Errorf("data = %q, existing record must be kept", rec.Data)
	}
	if after, _ := s.ProfileRevision(); after != rev {
		t.Errorf("revision moved from %d to %d without a write", rev, after)
	}
}

func TestProfileRevision_SeenAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	r0, err := a.ProfileRevision()
	if err != nil {
		t.Fatalf("ProfileRevision: %v", err)
	}

	if err := b.PutProfile("bob", `{}`); err != nil {
		t.Fatal(err)
	}
	r1, _ := a.ProfileRevision()
	if r1 <= r0 {
		t.Errorf("revision after insert = %d, want > %d", r1, r0)
	}

	if err := b.UpdateProfile("bob", func(string) (string, error) { return `{"skills":["go"]}`, nil }); err != nil {
		t.Fatal(err)
	}
	r2, _ := a.ProfileRevision()
	if r2 <= r1 {
		t.Errorf("revision after update = %d, want > %d", r2, r1)
	}

	if err := b.DeleteProfile("bob"); err != nil {
		t.Fatal(err)
	}
	r3, _ := a.ProfileRevision()
	if r3 <= r2 {
		t.Errorf("revision after delete = %d, want > %d", r3, r2)
	}
}

func TestAppendAndRecentMessages(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		m := SessionMessage{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: "sess-1",
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
		}
		if err := s.AppendMessage("ada", m); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	all, err := s.RecentMessages("sess-1", 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}

	last, err := s.RecentMessages("sess-1", 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("len = %d, want 2", len(last))
	}
	if last[0].Content != "message 3" || last[1].Content != "message 4" {
		t.Errorf("window = %q, %q; want oldest-first tail", last[0].Content, last[1].Content)
	}

	owner, err := s.SessionOwner("sess-1")
	if err != nil {
		t.Fatalf("SessionOwner: %v", err)
	}
	if owner != "ada" {
		t.Errorf("owner = %q, want ada", owner)
	}
}

func TestAppendMessage_OtherUsersSession(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendMessage("ada", SessionMessage{ID: "m1", SessionID: "sess-1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	err := s.AppendMessage("bob", SessionMessage{ID: "m2", SessionID: "sess-1", Role: "user", Content: "hey"})
	if !errors.Is(err, ErrSessionOwner) {
		t.Fatalf("err = %v, want ErrSessionOwner", err)
	}

	msgs, err := s.RecentMessages("sess-1", 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestDeleteSession(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendMessage("ada", SessionMessage{ID: "m1", SessionID: "sess-1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	msgs, err := s.RecentMessages("sess-1", 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %v", msgs)
	}
	if err := s.DeleteSession("sess-1"); err != ErrNotFound {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

// --- Documents ---

func TestSaveGetMarkDocument(t *testing.T) {
	s := openTestStore(t)

	doc := Document{ID: "d1", UserName: "ada", Title: "notes", Type: "text", Content: "I love chess"}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != "queued" {
		t.Errorf("Status = %q, want queued", got.Status)
	}
	if got.Content != "I love chess" {
		t.Errorf("Content = %q", got.Content)
	}

	if err := s.MarkDocument("d1", "learned", 2); err != nil {
		t.Fatalf("MarkDocument: %v", err)
	}
	got, _ = s.GetDocument("d1")
	if got.Status != "learned" || got.FactsLearned != 2 {
		t.Errorf("after mark = %+v", got)
	}

	if err := s.MarkDocument("missing", "learned", 0); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// --- Jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j-claim-1", Type: "learn_document", PayloadJSON: `{"document_id":"d1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"learn_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}

	again, err := s.ClaimNextJob([]string{"learn_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j-future", Type: "learn_document", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"learn_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.Type != "b" {
		t.Errorf("got %+v, want job of type b", got)
	}
}

func TestFailJob_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "x", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	final, err := s.FailJob("j1", "boom")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if final {
		t.Error("first failure should not be final")
	}
	j, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "pending" || j.Attempts != 1 || j.LastError != "boom" {
		t.Errorf("after first failure = %+v", j)
	}
	if !j.RunAfter.After(time.Now()) {
		t.Errorf("run_after %v not pushed into the future", j.RunAfter)
	}

	final, err = s.FailJob("j1", "boom again")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if !final {
		t.Error("second failure should be final")
	}
	j, _ = s.GetJob("j1")
	if j.Status != "failed" {
		t.Errorf("Status = %q, want failed", j.Status)
	}

	if _, err := s.FailJob("missing", "x"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	j, _ := s.GetJob("j1")
	if j.Status != "completed" {
		t.Errorf("Status = %q, want completed", j.Status)
	}
	if err := s.CompleteJob("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := Open(filepath.Join(t.TempDir(), "data"), nil)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInitializeCreatesDefaults(t *testing.T) {
	s := testStore(t)

	want := map[string]string{
		"messages.json": "[]",
		"config.json":   "{}",
		"groups.json":   "[]",
		"errors.json":   "[]",
	}
	for name, content := range want {
		data, err := os.ReadFile(filepath.Join(s.Dir(), name))
		if err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
		if string(data) != content {
			t.Errorf("%s = %q, want %q", name, data, content)
		}
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := testStore(t)
	if _, err := s.SaveMessage(NewMessage{Content: "keep me", GroupID: "g1"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Initialize(); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if got := s.CountMessages(); got != 1 {
		t.Errorf("CountMessages() = %d after re-initialize, want 1", got)
	}
}

func TestConcurrentInitialize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- Open(dir, nil).Initialize()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Initialize() error = %v", err)
		}
	}
	if got := Open(dir, nil).GetMessages(10); len(got) != 0 {
		t.Errorf("got %d messages, want 0", len(got))
	}
}

func TestInitializeBacksUpCorruptDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "groups.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := Open(dir, nil)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}

	backup, err := os.ReadFile(path + ".corrupt")
	if err != nil {
		t.Fatalf("corrupt backup missing: %v", err)
	}
	if string(backup) != "{not json" {
		t.Errorf("backup = %q, want original content", backup)
	}
	if got := s.GetActiveGroups(); len(got) != 0 {
		t.Errorf("got %d groups, want 0", len(got))
	}
}

func TestSaveMessageDefaults(t *testing.T) {
	s := testStore(t)

	m, err := s.SaveMessage(NewMessage{SourceMessageID: "m1", Content: "hi", Author: "Alice", GroupName: "G1", GroupID: "g1"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == 0 {
		t.Error("id not assigned")
	}
	if m.Status != StatusReceived {
		t.Errorf("status = %q, want received", m.Status)
	}
	if m.Timestamp.IsZero() || m.CreatedAt.IsZero() {
		t.Error("timestamps not assigned")
	}

	got := s.GetMessages(1)
	if len(got) != 1 || got[0].Author != "Alice" || got[0].Status != StatusReceived {
		t.Errorf("GetMessages(1) = %+v", got)
	}
}

func TestSaveMessageNewestFirstWithUniqueIDs(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.SaveMessage(NewMessage{Content: fmt.Sprint(i), GroupID: "g"}); err != nil {
			t.Fatal(err)
		}
	}

	msgs := s.GetMessages(10)
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	for i, m := range msgs {
		if want := fmt.Sprint(4 - i); m.Content != want {
			t.Errorf("msgs[%d].Content = %q, want %q", i, m.Content, want)
		}
		if i > 0 && m.ID >= msgs[i-1].ID {
			t.Errorf("ids not strictly decreasing: %d then %d", msgs[i-1].ID, m.ID)
		}
	}
}

// TestRetentionCap covers the 1001st save: the first message ever saved is evicted.
func TestRetentionCap(t *testing.T) {
	s := testStore(t)

	first, err := s.SaveMessage(NewMessage{SourceMessageID: "first", GroupID: "g"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < MaxMessages; i++ {
		if _, err := s.SaveMessage(NewMessage{SourceMessageID: fmt.Sprintf("m%d", i), GroupID: "g"}); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.CountMessages(); got != MaxMessages {
		t.Fatalf("CountMessages() = %d, want %d", got, MaxMessages)
	}
	if _, ok := s.FindMessageBySourceID("first"); !ok {
		t.Fatal("first message evicted too early")
	}

	last, err := s.SaveMessage(NewMessage{SourceMessageID: "overflow", GroupID: "g"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.CountMessages(); got != MaxMessages {
		t.Errorf("CountMessages() = %d, want %d", got, MaxMessages)
	}
	if _, ok := s.FindMessageBySourceID("first"); ok {
		t.Error("first message still present after overflow")
	}
	msgs := s.GetMessages(MaxMessages)
	if msgs[0].ID != last.ID {
		t.Errorf("newest = %d, want %d", msgs[0].ID, last.ID)
	}
	for _, m := range msgs {
		if m.ID == first.ID {
			t.Error("first message id still present")
		}
	}
}

func TestGetMessagesDefaultLimit(t *testing.T) {
	s := testStore(t)
	for i := 0; i < DefaultMessageLimit+5; i++ {
		if _, err := s.SaveMessage(NewMessage{GroupID: "g"}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(s.GetMessages(0)); got != DefaultMessageLimit {
		t.Errorf("len(GetMessages(0)) = %d, want %d", got, DefaultMessageLimit)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	s := testStore(t)
	m, err := s.SaveMessage(NewMessage{Content: "x", GroupID: "g"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateMessageStatus(m.ID, StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	got := s.GetMessages(1)[0]
	if got.Status != StatusFailed || got.Error != "boom" {
		t.Errorf("got status=%q error=%q, want failed/boom", got.Status, got.Error)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at %v before created_at %v", got.UpdatedAt, got.CreatedAt)
	}

	if err := s.UpdateMessageStatus(m.ID, StatusForwarded, ""); err != nil {
		t.Fatal(err)
	}
	got = s.GetMessages(1)[0]
	if got.Status != StatusForwarded || got.Error != "boom" {
		t.Errorf("got status=%q error=%q, want forwarded with previous error kept", got.Status, got.Error)
	}
}

func TestUpdateMessageStatusUnknownIDIsNoop(t *testing.T) {
	s := testStore(t)
	m, err := s.SaveMessage(NewMessage{Content: "x", GroupID: "g"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateMessageStatus(m.ID+999, StatusFailed, "nope"); err != nil {
		t.Fatalf("UpdateMessageStatus(unknown) error = %v", err)
	}
	msgs := s.GetMessages(10)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != StatusReceived {
		t.Errorf("status = %q, want received", msgs[0].Status)
	}
}

func TestFindMessageBySourceID(t *testing.T) {
	s := testStore(t)
	if _, err := s.SaveMessage(NewMessage{SourceMessageID: "abc", Content: "one", GroupID: "g"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMessage(NewMessage{Content: "no source", GroupID: "g"}); err != nil {
		t.Fatal(err)
	}

	m, ok := s.FindMessageBySourceID("abc")
	if !ok || m.Content != "one" {
		t.Errorf("FindMessageBySourceID(abc) = %+v, %v", m, ok)
	}
	if _, ok := s.FindMessageBySourceID("missing"); ok {
		t.Error("FindMessageBySourceID(missing) found a message")
	}
	if _, ok := s.FindMessageBySourceID(""); ok {
		t.Error("empty source id must never match")
	}
}

func TestConcurrentSaves(t *testing.T) {
	s := testStore(t)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.SaveMessage(NewMessage{SourceMessageID: fmt.Sprintf("c%d", i), GroupID: "g"}); err != nil {
				t.Error(err)
			}
			_ = s.GetMessages(5)
		}(i)
	}
	wg.Wait()

	msgs := s.GetMessages(n)
	if len(msgs) != n {
		t.Fatalf("got %d messages, want %d (lost update)", len(msgs), n)
	}
	seen := map[int64]bool{}
	for _, m := range msgs {
		if seen[m.ID] {
			t.Errorf("duplicate id %d", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestReadFailureReturnsDefault(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(filepath.Join(s.Dir(), "messages.json"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := s.GetMessages(10); len(got) != 0 {
		t.Errorf("GetMessages() = %d entries, want empty on decode failure", len(got))
	}
	if _, ok := s.GetConfig("anything"); ok {
		t.Error("GetConfig() found a key in an empty config")
	}
}

func TestWriteFailurePropagates(t *testing.T) {
	s := testStore(t)
	if err := os.RemoveAll(s.Dir()); err != nil {
		t.Fatal(err)
	}
	// A regular file where the directory was makes every write fail.
	if err := os.WriteFile(s.Dir(), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SaveMessage(NewMessage{Content: "lost", GroupID: "g"}); err == nil {
		t.Error("SaveMessage() error = nil, want write failure")
	}
	if err := s.SetConfig("k", "v"); err == nil {
		t.Error("SetConfig() error = nil, want write failure")
	}
	if _, err := s.UpsertGroup(GroupInput{GroupID: "g", Name: "G"}); err == nil {
		t.Error("UpsertGroup() error = nil, want write failure")
	}
	// Best effort: must not panic or return anything.
	s.LogError(errors.New("diagnostic"), "test")
}

func TestConfigLastWriterWins(t *testing.T) {
	s := testStore(t)

	if _, ok := s.GetConfig("forward_target"); ok {
		t.Fatal("unset key reported present")
	}
	if err := s.SetConfig("forward_target", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetConfig("forward_target", map[string]any{"chat": "second", "enabled": true}); err != nil {
		t.Fatal(err)
	}

	var got struct {
		Chat    string `json:"chat"`
		Enabled bool   `json:"enabled"`
	}
	if !s.GetConfigInto("forward_target", &got) {
		t.Fatal("GetConfigInto() = false")
	}
	if got.Chat != "second" || !got.Enabled {
		t.Errorf("got %+v, want latest value", got)
	}

	var n int
	if s.GetConfigInto("forward_target", &n) {
		t.Error("GetConfigInto() decoded an object into an int")
	}
}

func TestUpsertGroupTwiceKeepsOneRecord(t *testing.T) {
	s := testStore(t)

	first, err := s.UpsertGroup(GroupInput{GroupID: "G1", Name: "Old name"})
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsActive {
		t.Error("new group should default to active")
	}
	second, err := s.UpsertGroup(GroupInput{GroupID: "G1", Name: "New name"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("id changed on update: %d -> %d", first.ID, second.ID)
	}

	groups := s.GetActiveGroups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Name != "New name" {
		t.Errorf("name = %q, want New name", groups[0].Name)
	}
}

func TestUpsertGroupEmptyName(t *testing.T) {
	s := testStore(t)

	g, err := s.UpsertGroup(GroupInput{GroupID: "G1"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != DefaultGroupName {
		t.Errorf("inserted name = %q, want %q", g.Name, DefaultGroupName)
	}

	if _, err := s.UpsertGroup(GroupInput{GroupID: "G1", Name: "Family"}); err != nil {
		t.Fatal(err)
	}
	g, err = s.UpsertGroup(GroupInput{GroupID: "G1"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "Family" {
		t.Errorf("name = %q, want Family kept", g.Name)
	}
}

func TestUpsertGroupPreservesActiveFlagWhenUnset(t *testing.T) {
	s := testStore(t)
	inactive := false
	if _, err := s.UpsertGroup(GroupInput{GroupID: "G1", Name: "A", IsActive: &inactive}); err != nil {
		t.Fatal(err)
	}
	g, err := s.UpsertGroup(GroupInput{GroupID: "G1", Name: "B"})
	if err != nil {
		t.Fatal(err)
	}
	if g.IsActive {
		t.Error("unset IsActive re-activated the group")
	}
}

func TestSetGroupActive(t *testing.T) {
	s := testStore(t)
	if _, err := s.UpsertGroup(GroupInput{GroupID: "G1", Name: "One"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertGroup(GroupInput{GroupID: "G2", Name: "Two"}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetGroupActive("G1", false); err != nil {
		t.Fatal(err)
	}
	active := s.GetActiveGroups()
	if len(active) != 1 || active[0].GroupID != "G2" {
		t.Errorf("GetActiveGroups() = %+v, want only G2", active)
	}
	if s.IsGroupActive("G1") {
		t.Error("IsGroupActive(G1) = true after deactivation")
	}
	if !s.IsGroupActive("never-seen") {
		t.Error("unknown groups should count as active")
	}

	if err := s.SetGroupActive("missing", false); err != nil {
		t.Errorf("SetGroupActive(unknown) error = %v", err)
	}
	if _, ok := s.GetGroup("missing"); ok {
		t.Error("SetGroupActive(unknown) created a group")
	}
}

func TestErrorLogCap(t *testing.T) {
	s := testStore(t)

	for i := 0; i < MaxErrorLogs+10; i++ {
		s.LogError(fmt.Errorf("err %d", i), "test")
	}

	entries := s.GetRecentErrors(MaxErrorLogs + 10)
	if len(entries) != MaxErrorLogs {
		t.Fatalf("got %d entries, want %d", len(entries), MaxErrorLogs)
	}
	if entries[0].Message != fmt.Sprintf("err %d", MaxErrorLogs+9) {
		t.Errorf("newest = %q", entries[0].Message)
	}
	if entries[len(entries)-1].Message != "err 10" {
		t.Errorf("oldest retained = %q, want err 10", entries[len(entries)-1].Message)
	}
	if got := len(s.GetRecentErrors(0)); got != DefaultErrorLimit {
		t.Errorf("len(GetRecentErrors(0)) = %d, want %d", got, DefaultErrorLimit)
	}
}

func TestLogErrorRecordsStackAndContext(t *testing.T) {
	s := testStore(t)

	s.LogError(errors.Wrap(os.ErrPermission, "save message"), "group_message_processing")
	s.LogError(fmt.Errorf("plain"), "")
	s.LogError(nil, "ignored")

	entries := s.GetRecentErrors(10)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].StackTrace != "" {
		t.Error("plain error should have no stack trace")
	}
	wrapped := entries[1]
	if wrapped.Context != "group_message_processing" {
		t.Errorf("context = %q", wrapped.Context)
	}
	if wrapped.StackTrace == "" {
		t.Error("wrapped error should carry a stack trace")
	}
}

func TestIDsSurviveReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s := Open(dir, nil)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	before, err := s.SaveMessage(NewMessage{GroupID: "g"})
	if err != nil {
		t.Fatal(err)
	}

	reopened := Open(dir, nil)
	if err := reopened.Initialize(); err != nil {
		t.Fatal(err)
	}
	after, err := reopened.SaveMessage(NewMessage{GroupID: "g"})
	if err != nil {
		t.Fatal(err)
	}
	if after.ID <= before.ID {
		t.Errorf("id after reopen = %d, want > %d", after.ID, before.ID)
	}
}

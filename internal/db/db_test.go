package db

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

const seedNow = "2025-03-01T12:00:00Z"

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func Ptr[T any](v T) *T { return &v }

// seedBasic loads one project with one session holding a user
// message and an assistant message that ran a Bash tool, plus one
// history entry. Returns the synthetic ids needed by assertions.
func seedBasic(t *testing.T, d *DB) (projectID, sessionID, asstMsgID int64) {
	t.Helper()
	err := d.Update(func(tx *sql.Tx) error {
		var err error
		projectID, err = InsertProjectTx(tx, NewProject{
			Path: "/home/u/app", Name: "app",
		}, seedNow)
		if err != nil {
			return err
		}

		sessionID, err = InsertSessionTx(tx, NewSession{
			SessionID: "sess-1",
			ProjectID: projectID,
			Summary:   Ptr("Refactor auth"),
			StartedAt: Ptr("2025-03-01T10:00:00Z"),
			EndedAt:   Ptr("2025-03-01T11:00:00Z"),
		}, seedNow)
		if err != nil {
			return err
		}

		_, _, err = InsertMessageTx(tx, NewMessage{
			SessionID: sessionID,
			UUID:      "u1",
			Role:      "user",
			Content:   Ptr("alpha bravo charlie"),
			Timestamp: Ptr("2025-03-01T10:00:00Z"),
		}, seedNow)
		if err != nil {
			return err
		}

		var inserted bool
		asstMsgID, inserted, err = InsertMessageTx(tx, NewMessage{
			SessionID:    sessionID,
			UUID:         "a1",
			Role:         "assistant",
			Content:      Ptr("delta echo"),
			Model:        Ptr("claude-x"),
			InputTokens:  Ptr(int64(100)),
			OutputTokens: Ptr(int64(20)),
			Timestamp:    Ptr("2025-03-01T10:00:05Z"),
		}, seedNow)
		if err != nil {
			return err
		}
		if !inserted {
			return errors.New("assistant seed not inserted")
		}

		if err := InsertToolUseTx(tx, NewToolUse{
			MessageID: asstMsgID,
			ToolUseID: "tu1",
			ToolName:  "Bash",
			Input:     `{"command":"grep -r alpha"}`,
			InputText: "grep -r alpha",
			Result:    Ptr("found alpha in 3 files"),
		}, seedNow); err != nil {
			return err
		}

		return InsertHistoryBatchTx(tx, []NewHistoryEntry{{
			Display:     "alpha from history",
			ProjectPath: Ptr("/home/u/app"),
			SessionID:   Ptr("sess-1"),
			Timestamp:   "2025-03-01T09:00:00Z",
		}}, seedNow)
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	return projectID, sessionID, asstMsgID
}

func TestMetaRoundTrip(t *testing.T) {
	d := testDB(t)

	_, ok, err := d.GetMeta("lastSyncAt")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if ok {
		t.Fatal("expected missing key")
	}

	if err := d.SetMeta("lastSyncAt", "2025-03-01T12:00:00Z"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := d.SetMeta("lastSyncAt", "2025-03-01T13:00:00Z"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}

	v, ok, err := d.GetMeta("lastSyncAt")
	if err != nil || !ok {
		t.Fatalf("GetMeta after set: %v, ok=%v", err, ok)
	}
	if v != "2025-03-01T13:00:00Z" {
		t.Errorf("got %q, want overwritten value", v)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	d := testDB(t)

	boom := errors.New("boom")
	err := d.Update(func(tx *sql.Tx) error {
		if _, err := InsertProjectTx(tx, NewProject{
			Path: "/x", Name: "x",
		}, seedNow); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want boom", err)
	}

	var n int
	if err := d.Reader().QueryRow(
		"SELECT count(*) FROM projects",
	).Scan(&n); err != nil {
		t.Fatalf("counting projects: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d projects after rollback, want 0", n)
	}
}

func TestInsertMessageDedup(t *testing.T) {
	d := testDB(t)
	_, sessionID, _ := seedBasic(t, d)

	err := d.Update(func(tx *sql.Tx) error {
		id, inserted, err := InsertMessageTx(tx, NewMessage{
			SessionID: sessionID,
			UUID:      "u1", // already seeded
			Role:      "user",
			Content:   Ptr("imposter"),
		}, seedNow)
		if err != nil {
			return err
		}
		if inserted || id != 0 {
			return fmt.Errorf("duplicate uuid inserted: id=%d inserted=%v", id, inserted)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var n int
	if err := d.Reader().QueryRow(
		"SELECT count(*) FROM messages WHERE uuid = 'u1'",
	).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d rows for uuid u1, want 1", n)
	}
}

func TestSessionUniquePerAgent(t *testing.T) {
	d := testDB(t)
	projectID, _, _ := seedBasic(t, d)

	// Same session id with an agent id is a distinct row; repeating
	// the top-level row is not.
	err := d.Update(func(tx *sql.Tx) error {
		_, err := InsertSessionTx(tx, NewSession{
			SessionID:       "sess-1",
			ProjectID:       projectID,
			IsSubagent:      true,
			AgentID:         Ptr("ab12"),
			ParentSessionID: Ptr("sess-1"),
		}, seedNow)
		return err
	})
	if err != nil {
		t.Fatalf("subagent row rejected: %v", err)
	}

	err = d.Update(func(tx *sql.Tx) error {
		_, err := InsertSessionTx(tx, NewSession{
			SessionID: "sess-1",
			ProjectID: projectID,
		}, seedNow)
		return err
	})
	if err == nil {
		t.Fatal("duplicate top-level session accepted")
	}
}

func TestWipeDerived(t *testing.T) {
	d := testDB(t)
	seedBasic(t, d)

	if err := d.Update(WipeDerivedTx); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	for _, table := range []string{
		"projects", "sessions", "messages", "tool_uses",
		"global_history", "tasks", "plans",
	} {
		var n int
		if err := d.Reader().QueryRow(
			"SELECT count(*) FROM " + table,
		).Scan(&n); err != nil {
			t.Fatalf("counting %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows after wipe", table, n)
		}
	}
}

package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

//openTestDB opens a fresh in-memory database with the schema applied,
//bypassing config/Initialize so the db package can be tested standalone.
func openTestDB(t *testing.T) *sql.DB {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}

	if err := ApplySchema(conn); err != nil {
		t.Fatal(err)
	}

	return conn
}

func TestEnsureApp(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	if err := EnsureApp(conn, "app1", 100); err != nil {
		t.Fatal(err)
	}

	//idempotent
	if err := EnsureApp(conn, "app1", 200); err != nil {
		t.Fatal(err)
	}
}

func TestNameplateLifecycle(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	np, err := GetNameplate(conn, "app1", "42")
	if err != nil {
		t.Fatal(err)
	}
	if np != nil {
		t.Error("expected no nameplate before insert")
	}

	id, err := InsertNameplate(conn, "app1", "42", "mbox-1", 100)
	if err != nil {
		t.Fatal(err)
	}

	if err := InsertNameplateSide(conn, id, "side1", 100); err != nil {
		t.Fatal(err)
	}

	np, err = GetNameplate(conn, "app1", "42")
	if err != nil {
		t.Fatal(err)
	}
	if np == nil {
		t.Fatal("expected nameplate after insert")
	}
	if np.MailboxID != "mbox-1" {
		t.Errorf("expected mbox-1 mailbox id, got %s", np.MailboxID)
	}

	if err := TouchNameplate(conn, id, 150); err != nil {
		t.Fatal(err)
	}

	np, err = GetNameplate(conn, "app1", "42")
	if err != nil {
		t.Fatal(err)
	}
	if np.Updated != 150 {
		t.Errorf("expected updated=150, got %d", np.Updated)
	}

	n, err := CountClaimedNameplateSides(conn, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 claimed side, got %d", n)
	}

	if err := SetNameplateSideClaimed(conn, id, "side1", false); err != nil {
		t.Fatal(err)
	}

	n, err = CountClaimedNameplateSides(conn, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 claimed sides after release, got %d", n)
	}

	if err := DeleteNameplate(conn, id); err != nil {
		t.Fatal(err)
	}

	np, err = GetNameplate(conn, "app1", "42")
	if err != nil {
		t.Fatal(err)
	}
	if np != nil {
		t.Error("expected nameplate gone after delete")
	}

	sides, err := ListNameplateSides(conn, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(sides) != 0 {
		t.Error("expected nameplate sides to cascade-delete")
	}
}

func TestListNameplateNamesAndForApp(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	if _, err := InsertNameplate(conn, "app1", "1", "m1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := InsertNameplate(conn, "app1", "2", "m2", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := InsertNameplate(conn, "app2", "1", "m3", 100); err != nil {
		t.Fatal(err)
	}

	names, err := ListNameplateNames(conn, "app1")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 names for app1, got %d", len(names))
	}

	rows, err := ListNameplatesForApp(conn, "app1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows for app1, got %d", len(rows))
	}
}

func TestMailboxLifecycle(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	mb, err := GetMailbox(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if mb != nil {
		t.Error("expected no mailbox before insert")
	}

	if err := InsertMailbox(conn, "app1", "mbox-1", true, 100); err != nil {
		t.Fatal(err)
	}

	//idempotent
	if err := InsertMailbox(conn, "app1", "mbox-1", true, 200); err != nil {
		t.Fatal(err)
	}

	mb, err = GetMailbox(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if mb == nil {
		t.Fatal("expected mailbox after insert")
	}
	if mb.Updated != 100 {
		t.Errorf("expected insert-or-ignore to keep first updated=100, got %d", mb.Updated)
	}

	if err := TouchMailbox(conn, "app1", "mbox-1", 150); err != nil {
		t.Fatal(err)
	}

	mb, err = GetMailbox(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if mb.Updated != 150 {
		t.Errorf("expected updated=150, got %d", mb.Updated)
	}

	if err := InsertMailboxSide(conn, "app1", "mbox-1", "side1", 100); err != nil {
		t.Fatal(err)
	}
	if err := InsertMailboxSide(conn, "app1", "mbox-1", "side2", 110); err != nil {
		t.Fatal(err)
	}

	n, err := CountOpenMailboxSides(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 open sides, got %d", n)
	}

	if err := CloseMailboxSide(conn, "app1", "mbox-1", "side1", "happy"); err != nil {
		t.Fatal(err)
	}

	n, err = CountOpenMailboxSides(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 open side after close, got %d", n)
	}

	sides, err := ListMailboxSides(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sides) != 2 {
		t.Errorf("expected 2 side rows, got %d", len(sides))
	}

	if err := DeleteMailbox(conn, "app1", "mbox-1"); err != nil {
		t.Fatal(err)
	}

	mb, err = GetMailbox(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if mb != nil {
		t.Error("expected mailbox gone after delete")
	}

	sides, err = ListMailboxSides(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sides) != 0 {
		t.Error("expected mailbox sides to cascade-delete")
	}
}

func TestListMailboxesForApp(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	if err := InsertMailbox(conn, "app1", "m1", true, 100); err != nil {
		t.Fatal(err)
	}
	if err := InsertMailbox(conn, "app1", "m2", false, 100); err != nil {
		t.Fatal(err)
	}
	if err := InsertMailbox(conn, "app2", "m3", true, 100); err != nil {
		t.Fatal(err)
	}

	rows, err := ListMailboxesForApp(conn, "app1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 mailboxes for app1, got %d", len(rows))
	}
}

func TestMessages(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	if err := InsertMailbox(conn, "app1", "mbox-1", true, 100); err != nil {
		t.Fatal(err)
	}

	msgs, err := ListMessages(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Error("expected no messages before insert")
	}

	if err := InsertMessage(conn, MessageRow{
		AppID: "app1", MailboxID: "mbox-1", Side: "side1",
		Phase: "pake", Body: "deadbeef", ServerRX: 101, MsgID: "msg-1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := InsertMessage(conn, MessageRow{
		AppID: "app1", MailboxID: "mbox-1", Side: "side2",
		Phase: "version", Body: "cafe", ServerRX: 100, MsgID: "msg-2",
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err = ListMessages(conn, "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	//ordered by server_rx ASC
	if msgs[0].MsgID != "msg-2" {
		t.Errorf("expected msg-2 first (lower server_rx), got %s", msgs[0].MsgID)
	}
}

func TestUsageRows(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	if err := InsertNameplateUsage(conn, UsageRow{
		AppID: "app1", Started: 100, TotalTime: 10, Result: "happy",
	}); err != nil {
		t.Fatal(err)
	}

	if err := InsertMailboxUsage(conn, UsageRow{
		AppID: "app1", Started: 100, TotalTime: 10, Result: "lonely",
	}); err != nil {
		t.Fatal(err)
	}

	if err := InsertTransitUsage(conn, TransitUsageRow{
		Started: 100, TotalTime: 10, TotalBytes: 20000, Result: "happy",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestWithTxRollback(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	store := NewStore(conn)

	err := store.WithTx(func(tx *sql.Tx) error {
		if _, err := InsertNameplate(tx, "app1", "1", "m1", 100); err != nil {
			t.Fatal(err)
		}
		return sql.ErrTxDone
	})
	if err == nil {
		t.Error("expected WithTx to propagate fn's error")
	}

	np, err := GetNameplate(conn, "app1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if np != nil {
		t.Error("expected rollback to undo the insert")
	}
}

func TestWithTxCommit(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()

	store := NewStore(conn)

	err := store.WithTx(func(tx *sql.Tx) error {
		_, err := InsertNameplate(tx, "app1", "1", "m1", 100)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	np, err := GetNameplate(conn, "app1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if np == nil {
		t.Error("expected commit to persist the insert")
	}
}

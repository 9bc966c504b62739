package relay

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/softempire/magic-wormhole/db"
)

func testStore(t *testing.T) *db.Store {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.ApplySchema(conn); err != nil {
		t.Fatal(err)
	}
	return db.NewStore(conn)
}

func TestMailboxAddMessageBroadcasts(t *testing.T) {
	store := testStore(t)
	if err := db.InsertMailbox(store.DB(), "app1", "mbox-1", false, 100); err != nil {
		t.Fatal(err)
	}

	mbox := NewMailbox("mbox-1", "app1", store)

	handle, ch, replay, err := mbox.AddListener()
	if err != nil {
		t.Fatal(err)
	}
	if len(replay) != 0 {
		t.Errorf("expected no replayed messages, got %d", len(replay))
	}

	if err := mbox.AddMessage(db.MessageRow{
		AppID: "app1", MailboxID: "mbox-1", Side: "side1",
		Phase: "pake", Body: "deadbeef", ServerRX: 101, MsgID: "msg-1",
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		if msg.MsgID != "msg-1" {
			t.Errorf("expected msg-1, got %s", msg.MsgID)
		}
	default:
		t.Fatal("expected a message to be delivered to the listener")
	}

	mbox.RemoveListener(handle)
}

func TestMailboxReplaysStoredMessages(t *testing.T) {
	store := testStore(t)
	if err := db.InsertMailbox(store.DB(), "app1", "mbox-1", false, 100); err != nil {
		t.Fatal(err)
	}

	mbox := NewMailbox("mbox-1", "app1", store)
	if err := mbox.AddMessage(db.MessageRow{
		AppID: "app1", MailboxID: "mbox-1", Side: "side1",
		Phase: "pake", Body: "deadbeef", ServerRX: 101, MsgID: "msg-1",
	}); err != nil {
		t.Fatal(err)
	}

	_, _, replay, err := mbox.AddListener()
	if err != nil {
		t.Fatal(err)
	}
	if len(replay) != 1 {
		t.Fatalf("expected 1 replayed message, got %d", len(replay))
	}
	if replay[0].MsgID != "msg-1" {
		t.Errorf("expected msg-1 replayed, got %s", replay[0].MsgID)
	}
}

func TestMailboxBroadcastDropsWhenListenerFull(t *testing.T) {
	store := testStore(t)
	if err := db.InsertMailbox(store.DB(), "app1", "mbox-1", false, 100); err != nil {
		t.Fatal(err)
	}

	mbox := NewMailbox("mbox-1", "app1", store)
	_, _, _, err := mbox.AddListener()
	if err != nil {
		t.Fatal(err)
	}

	//flood past listenerBuffer without ever draining; AddMessage must not block
	for i := 0; i < listenerBuffer+5; i++ {
		if err := mbox.AddMessage(db.MessageRow{
			AppID: "app1", MailboxID: "mbox-1", Side: "side1",
			Phase: "pake", Body: "x", ServerRX: int64(100 + i), MsgID: "msg",
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMailboxHasListeners(t *testing.T) {
	store := testStore(t)
	if err := db.InsertMailbox(store.DB(), "app1", "mbox-1", false, 100); err != nil {
		t.Fatal(err)
	}

	mbox := NewMailbox("mbox-1", "app1", store)
	if mbox.HasListeners() {
		t.Error("expected no listeners on a fresh mailbox")
	}

	handle, _, _, err := mbox.AddListener()
	if err != nil {
		t.Fatal(err)
	}
	if !mbox.HasListeners() {
		t.Error("expected HasListeners to report true once a listener is attached")
	}

	mbox.RemoveListener(handle)
	if mbox.HasListeners() {
		t.Error("expected HasListeners to report false after the listener is removed")
	}
}

func TestMailboxRemoveListenerIdempotent(t *testing.T) {
	store := testStore(t)
	if err := db.InsertMailbox(store.DB(), "app1", "mbox-1", false, 100); err != nil {
		t.Fatal(err)
	}

	mbox := NewMailbox("mbox-1", "app1", store)
	handle, _, _, err := mbox.AddListener()
	if err != nil {
		t.Fatal(err)
	}

	mbox.RemoveListener(handle)
	mbox.RemoveListener(handle)   //no panic on double-remove
	mbox.RemoveListener(handle + 99) //no panic on unknown handle
}

func TestMailboxShutdownClosesListeners(t *testing.T) {
	store := testStore(t)
	if err := db.InsertMailbox(store.DB(), "app1", "mbox-1", false, 100); err != nil {
		t.Fatal(err)
	}

	mbox := NewMailbox("mbox-1", "app1", store)
	_, ch, _, err := mbox.AddListener()
	if err != nil {
		t.Fatal(err)
	}

	mbox.shutdown()

	_, open := <-ch
	if open {
		t.Error("expected listener channel to be closed on shutdown")
	}
}

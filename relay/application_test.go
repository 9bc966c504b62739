package relay

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/softempire/magic-wormhole/db"
)

func testApp(t *testing.T, id string) *Application {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.ApplySchema(conn); err != nil {
		t.Fatal(err)
	}
	return NewApplication(id, db.NewStore(conn))
}

func TestClaimNameplateCreatesMailbox(t *testing.T) {
	app := testApp(t, "app1")

	mbox, err := app.ClaimNameplate("42", "side1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if mbox == "" {
		t.Fatal("expected a mailbox id")
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "42" {
		t.Errorf("expected nameplate 42 to be listed, got %v", ids)
	}
}

func TestClaimNameplateIdempotentSameSide(t *testing.T) {
	app := testApp(t, "app1")

	m1, err := app.ClaimNameplate("42", "side1", 100)
	if err != nil {
		t.Fatal(err)
	}

	m2, err := app.ClaimNameplate("42", "side1", 110)
	if err != nil {
		t.Fatal(err)
	}
	if m1 != m2 {
		t.Error("expected reclaiming from the same side to return the same mailbox")
	}
}

func TestClaimNameplateSecondSide(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := app.ClaimNameplate("42", "side2", 110); err != nil {
		t.Fatal(err)
	}
}

func TestClaimNameplateThirdSideCrowded(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := app.ClaimNameplate("42", "side2", 110); err != nil {
		t.Fatal(err)
	}

	_, err := app.ClaimNameplate("42", "side3", 120)
	if err != errCrowded {
		t.Fatalf("expected errCrowded, got %v", err)
	}

	//the two original sides are untouched
	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("expected the nameplate to survive a crowding attempt, got %v", ids)
	}
}

func TestClaimNameplateThirdSidePersistsSideRow(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := app.ClaimNameplate("42", "side2", 110); err != nil {
		t.Fatal(err)
	}
	if _, err := app.ClaimNameplate("42", "side3", 120); err != errCrowded {
		t.Fatalf("expected errCrowded, got %v", err)
	}

	np, err := db.GetNameplate(app.store.DB(), "app1", "42")
	if err != nil || np == nil {
		t.Fatalf("expected nameplate to still exist, err=%v", err)
	}

	side, err := db.GetNameplateSide(app.store.DB(), np.ID, "side3")
	if err != nil {
		t.Fatal(err)
	}
	if side == nil {
		t.Fatal("expected the crowded-out side's row to be persisted so it can be released")
	}
}

func TestClaimNameplateCrowdedSideMustBeReleasedToTearDown(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := app.ClaimNameplate("42", "side2", 110); err != nil {
		t.Fatal(err)
	}
	if _, err := app.ClaimNameplate("42", "side3", 120); err != errCrowded {
		t.Fatalf("expected errCrowded, got %v", err)
	}

	if err := app.ReleaseNameplate("42", "side1", 150); err != nil {
		t.Fatal(err)
	}
	if err := app.ReleaseNameplate("42", "side2", 160); err != nil {
		t.Fatal(err)
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected the nameplate to survive until the crowded-out side also releases, got %v", ids)
	}

	if err := app.ReleaseNameplate("42", "side3", 170); err != nil {
		t.Fatal(err)
	}

	ids, err = app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected the nameplate to finally tear down, got %v", ids)
	}
}

func TestAllocateNameplatePicksFreeName(t *testing.T) {
	app := testApp(t, "app1")

	name, err := app.AllocateNameplate("side1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if name == "" {
		t.Fatal("expected a nameplate name")
	}
}

func TestReleaseNameplateLastSideTearsDown(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 100); err != nil {
		t.Fatal(err)
	}

	if err := app.ReleaseNameplate("42", "side1", 150); err != nil {
		t.Fatal(err)
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected nameplate to be torn down, got %v", ids)
	}
}

func TestReleaseNameplateNotAllSidesReleased(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := app.ClaimNameplate("42", "side2", 110); err != nil {
		t.Fatal(err)
	}

	if err := app.ReleaseNameplate("42", "side1", 150); err != nil {
		t.Fatal(err)
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("expected nameplate to remain with one side still claiming, got %v", ids)
	}
}

func TestReleaseUnclaimedNameplateIsNoop(t *testing.T) {
	app := testApp(t, "app1")

	if err := app.ReleaseNameplate("999", "side1", 100); err != nil {
		t.Fatal(err)
	}
}

func TestOpenMailboxCrowding(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.OpenMailbox("mbox-1", "side1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := app.OpenMailbox("mbox-1", "side2", 110); err != nil {
		t.Fatal(err)
	}

	_, err := app.OpenMailbox("mbox-1", "side3", 120)
	if err != errCrowded {
		t.Fatalf("expected errCrowded, got %v", err)
	}

	side, err := db.GetMailboxSide(app.store.DB(), "app1", "mbox-1", "side3")
	if err != nil {
		t.Fatal(err)
	}
	if side == nil {
		t.Fatal("expected the crowded-out side's row to be persisted so it can be released")
	}

	sides, err := db.ListMailboxSides(app.store.DB(), "app1", "mbox-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sides) != 3 {
		t.Errorf("expected 3 side rows once the crowded attempt is persisted, got %d", len(sides))
	}
}

func TestCloseMailboxLastSideTearsDown(t *testing.T) {
	app := testApp(t, "app1")

	mbox, err := app.OpenMailbox("mbox-1", "side1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if mbox == nil {
		t.Fatal("expected a mailbox")
	}

	if err := app.CloseMailbox("mbox-1", "side1", "happy", 150); err != nil {
		t.Fatal(err)
	}

	app.mu.Lock()
	_, still := app.Mailboxes["mbox-1"]
	app.mu.Unlock()
	if still {
		t.Error("expected mailbox to be removed from the in-memory registry")
	}
}

func TestPruneRemovesStaleNameplateAndMailbox(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 100); err != nil {
		t.Fatal(err)
	}

	if err := app.prune(1000, 500); err != nil {
		t.Fatal(err)
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected stale nameplate to be pruned, got %v", ids)
	}
}

func TestPruneKeepsMailboxWithListener(t *testing.T) {
	app := testApp(t, "app1")

	mbox, err := app.OpenMailbox("mbox-1", "side1", 100)
	if err != nil {
		t.Fatal(err)
	}

	handle, _, _, err := mbox.AddListener()
	if err != nil {
		t.Fatal(err)
	}
	defer mbox.RemoveListener(handle)

	if err := app.prune(1000, 500); err != nil {
		t.Fatal(err)
	}

	app.mu.Lock()
	_, still := app.Mailboxes["mbox-1"]
	app.mu.Unlock()
	if !still {
		t.Error("expected a mailbox with an active listener to survive pruning")
	}
}

func TestPruneKeepsFreshNameplate(t *testing.T) {
	app := testApp(t, "app1")

	if _, err := app.ClaimNameplate("42", "side1", 900); err != nil {
		t.Fatal(err)
	}

	if err := app.prune(1000, 500); err != nil {
		t.Fatal(err)
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("expected fresh nameplate to survive pruning, got %v", ids)
	}
}

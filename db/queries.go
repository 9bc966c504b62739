package db

import "database/sql"

//EnsureApp records the app_id as seen, inserting a first_seen row the
//first time this app_id is referenced. Idempotent.
func EnsureApp(x execer, appID string, now int64) error {
	_, err := x.Exec(`INSERT OR IGNORE INTO apps (app_id, first_seen) VALUES ($1, $2)`, appID, now)
	return err
}

// ---- nameplates ----

//GetNameplate looks up a nameplate by (app_id, name). Returns (nil, nil)
//when no row exists.
func GetNameplate(x execer, appID, name string) (*NameplateRow, error) {
	row := x.QueryRow(`SELECT id, app_id, name, mailbox_id, updated FROM nameplates
		WHERE app_id=$1 AND name=$2`, appID, name)

	var np NameplateRow
	if err := row.Scan(&np.ID, &np.AppID, &np.Name, &np.MailboxID, &np.Updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &np, nil
}

//InsertNameplate creates a new nameplate row, returning its id.
func InsertNameplate(x execer, appID, name, mailboxID string, now int64) (int64, error) {
	res, err := x.Exec(`INSERT INTO nameplates (app_id, name, mailbox_id, updated)
		VALUES ($1, $2, $3, $4)`, appID, name, mailboxID, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

//TouchNameplate updates a nameplate's last-activity timestamp.
func TouchNameplate(x execer, id int64, now int64) error {
	_, err := x.Exec(`UPDATE nameplates SET updated=$2 WHERE id=$1`, id, now)
	return err
}

//DeleteNameplate removes a nameplate and all of its side rows.
func DeleteNameplate(x execer, id int64) error {
	if _, err := x.Exec(`DELETE FROM nameplate_sides WHERE nameplate_id=$1`, id); err != nil {
		return err
	}
	_, err := x.Exec(`DELETE FROM nameplates WHERE id=$1`, id)
	return err
}

//ListNameplateNames returns every nameplate name currently claimed for an app.
func ListNameplateNames(x execer, appID string) ([]string, error) {
	rows, err := x.Query(`SELECT name FROM nameplates WHERE app_id=$1`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

//ListNameplatesForApp returns every nameplate row for an app, used by pruning.
func ListNameplatesForApp(x execer, appID string) ([]NameplateRow, error) {
	rows, err := x.Query(`SELECT id, app_id, name, mailbox_id, updated FROM nameplates WHERE app_id=$1`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameplateRow
	for rows.Next() {
		var np NameplateRow
		if err := rows.Scan(&np.ID, &np.AppID, &np.Name, &np.MailboxID, &np.Updated); err != nil {
			return nil, err
		}
		out = append(out, np)
	}
	return out, rows.Err()
}

// ---- nameplate sides ----

//GetNameplateSide returns the side row for (nameplate_id, side), or (nil, nil).
func GetNameplateSide(x execer, nameplateID int64, side string) (*NameplateSideRow, error) {
	row := x.QueryRow(`SELECT nameplate_id, side, claimed, added FROM nameplate_sides
		WHERE nameplate_id=$1 AND side=$2`, nameplateID, side)

	var s NameplateSideRow
	if err := row.Scan(&s.NameplateID, &s.Side, &s.Claimed, &s.Added); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

//InsertNameplateSide adds a claimed side row.
func InsertNameplateSide(x execer, nameplateID int64, side string, now int64) error {
	_, err := x.Exec(`INSERT INTO nameplate_sides (nameplate_id, side, claimed, added)
		VALUES ($1, $2, true, $3)`, nameplateID, side, now)
	return err
}

//SetNameplateSideClaimed flips a side's claimed flag (used on release).
func SetNameplateSideClaimed(x execer, nameplateID int64, side string, claimed bool) error {
	_, err := x.Exec(`UPDATE nameplate_sides SET claimed=$3 WHERE nameplate_id=$1 AND side=$2`,
		nameplateID, side, claimed)
	return err
}

//ListNameplateSides returns every side row (claimed or not) for a nameplate.
func ListNameplateSides(x execer, nameplateID int64) ([]NameplateSideRow, error) {
	rows, err := x.Query(`SELECT nameplate_id, side, claimed, added FROM nameplate_sides
		WHERE nameplate_id=$1 ORDER BY added ASC`, nameplateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameplateSideRow
	for rows.Next() {
		var s NameplateSideRow
		if err := rows.Scan(&s.NameplateID, &s.Side, &s.Claimed, &s.Added); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

//CountClaimedNameplateSides counts sides still marked claimed=true.
func CountClaimedNameplateSides(x execer, nameplateID int64) (int, error) {
	row := x.QueryRow(`SELECT COUNT(*) FROM nameplate_sides WHERE nameplate_id=$1 AND claimed=true`, nameplateID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// ---- mailboxes ----

//GetMailbox returns the mailbox row for (app_id, id), or (nil, nil).
func GetMailbox(x execer, appID, id string) (*MailboxRow, error) {
	row := x.QueryRow(`SELECT app_id, id, updated, for_nameplate FROM mailboxes
		WHERE app_id=$1 AND id=$2`, appID, id)

	var m MailboxRow
	if err := row.Scan(&m.AppID, &m.ID, &m.Updated, &m.ForNameplate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

//InsertMailbox creates a mailbox row. Idempotent: a second insert for the
//same (app_id, id) is ignored.
func InsertMailbox(x execer, appID, id string, forNameplate bool, now int64) error {
	_, err := x.Exec(`INSERT OR IGNORE INTO mailboxes (app_id, id, updated, for_nameplate)
		VALUES ($1, $2, $3, $4)`, appID, id, now, forNameplate)
	return err
}

//TouchMailbox updates a mailbox's last-activity timestamp.
func TouchMailbox(x execer, appID, id string, now int64) error {
	_, err := x.Exec(`UPDATE mailboxes SET updated=$3 WHERE app_id=$1 AND id=$2`, appID, id, now)
	return err
}

//DeleteMailbox removes a mailbox's messages, side rows, and the mailbox
//row itself.
func DeleteMailbox(x execer, appID, id string) error {
	if _, err := x.Exec(`DELETE FROM messages WHERE app_id=$1 AND mailbox_id=$2`, appID, id); err != nil {
		return err
	}
	if _, err := x.Exec(`DELETE FROM mailbox_sides WHERE app_id=$1 AND mailbox_id=$2`, appID, id); err != nil {
		return err
	}
	_, err := x.Exec(`DELETE FROM mailboxes WHERE app_id=$1 AND id=$2`, appID, id)
	return err
}

//ListMailboxesForApp returns every mailbox row for an app, used by pruning.
func ListMailboxesForApp(x execer, appID string) ([]MailboxRow, error) {
	rows, err := x.Query(`SELECT app_id, id, updated, for_nameplate FROM mailboxes WHERE app_id=$1`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MailboxRow
	for rows.Next() {
		var m MailboxRow
		if err := rows.Scan(&m.AppID, &m.ID, &m.Updated, &m.ForNameplate); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- mailbox sides ----

//GetMailboxSide returns the side row for (app_id, mailbox_id, side), or (nil, nil).
func GetMailboxSide(x execer, appID, mailboxID, side string) (*MailboxSideRow, error) {
	row := x.QueryRow(`SELECT app_id, mailbox_id, side, opened, added, mood FROM mailbox_sides
		WHERE app_id=$1 AND mailbox_id=$2 AND side=$3`, appID, mailboxID, side)

	var s MailboxSideRow
	if err := row.Scan(&s.AppID, &s.MailboxID, &s.Side, &s.Opened, &s.Added, &s.Mood); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

//InsertMailboxSide adds an opened side row.
func InsertMailboxSide(x execer, appID, mailboxID, side string, now int64) error {
	_, err := x.Exec(`INSERT INTO mailbox_sides (app_id, mailbox_id, side, opened, added)
		VALUES ($1, $2, $3, true, $4)`, appID, mailboxID, side, now)
	return err
}

//CloseMailboxSide marks a side closed and records its mood.
func CloseMailboxSide(x execer, appID, mailboxID, side, mood string) error {
	_, err := x.Exec(`UPDATE mailbox_sides SET opened=false, mood=$4
		WHERE app_id=$1 AND mailbox_id=$2 AND side=$3`, appID, mailboxID, side, mood)
	return err
}

//ListMailboxSides returns every side row (open or closed) for a mailbox.
func ListMailboxSides(x execer, appID, mailboxID string) ([]MailboxSideRow, error) {
	rows, err := x.Query(`SELECT app_id, mailbox_id, side, opened, added, mood FROM mailbox_sides
		WHERE app_id=$1 AND mailbox_id=$2 ORDER BY added ASC`, appID, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MailboxSideRow
	for rows.Next() {
		var s MailboxSideRow
		if err := rows.Scan(&s.AppID, &s.MailboxID, &s.Side, &s.Opened, &s.Added, &s.Mood); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

//CountOpenMailboxSides counts sides still marked opened=true.
func CountOpenMailboxSides(x execer, appID, mailboxID string) (int, error) {
	row := x.QueryRow(`SELECT COUNT(*) FROM mailbox_sides WHERE app_id=$1 AND mailbox_id=$2 AND opened=true`,
		appID, mailboxID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// ---- messages ----

//InsertMessage appends a message row. Not idempotent: repeated msg_ids
//produce repeated rows by design (spec section 3, Message).
func InsertMessage(x execer, m MessageRow) error {
	_, err := x.Exec(`INSERT INTO messages (app_id, mailbox_id, side, phase, body, server_rx, msg_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.AppID, m.MailboxID, m.Side, m.Phase, m.Body, m.ServerRX, m.MsgID)
	return err
}

//ListMessages returns every message stored for a mailbox, oldest first.
func ListMessages(x execer, appID, mailboxID string) ([]MessageRow, error) {
	rows, err := x.Query(`SELECT app_id, mailbox_id, side, phase, body, server_rx, msg_id
		FROM messages WHERE app_id=$1 AND mailbox_id=$2 ORDER BY server_rx ASC, rowid ASC`,
		appID, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.AppID, &m.MailboxID, &m.Side, &m.Phase, &m.Body, &m.ServerRX, &m.MsgID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- usage ----

//InsertNameplateUsage records a nameplate teardown summary.
func InsertNameplateUsage(x execer, u UsageRow) error {
	_, err := x.Exec(`INSERT INTO nameplate_usage (app_id, started, waiting_time, total_time, result)
		VALUES ($1, $2, $3, $4, $5)`, u.AppID, u.Started, u.WaitingTime, u.TotalTime, u.Result)
	return err
}

//InsertMailboxUsage records a mailbox teardown summary.
func InsertMailboxUsage(x execer, u UsageRow) error {
	_, err := x.Exec(`INSERT INTO mailbox_usage (app_id, started, waiting_time, total_time, result)
		VALUES ($1, $2, $3, $4, $5)`, u.AppID, u.Started, u.WaitingTime, u.TotalTime, u.Result)
	return err
}

//InsertTransitUsage records a completed (or abandoned) transit pairing.
func InsertTransitUsage(x execer, u TransitUsageRow) error {
	_, err := x.Exec(`INSERT INTO transit_usage (started, total_time, total_bytes, result)
		VALUES ($1, $2, $3, $4)`, u.Started, u.TotalTime, u.TotalBytes, u.Result)
	return err
}

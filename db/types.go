package db

import "database/sql"

//NameplateRow mirrors a row of the nameplates table
type NameplateRow struct {
	ID        int64
	AppID     string
	Name      string
	MailboxID string
	Updated   int64
}

//NameplateSideRow mirrors a row of the nameplate_sides table
type NameplateSideRow struct {
	NameplateID int64
	Side        string
	Claimed     bool
	Added       int64
}

//MailboxRow mirrors a row of the mailboxes table
type MailboxRow struct {
	AppID        string
	ID           string
	Updated      int64
	ForNameplate bool
}

//MailboxSideRow mirrors a row of the mailbox_sides table
type MailboxSideRow struct {
	AppID     string
	MailboxID string
	Side      string
	Opened    bool
	Added     int64
	Mood      sql.NullString
}

//MessageRow mirrors a row of the messages table
type MessageRow struct {
	AppID     string
	MailboxID string
	Side      string
	Phase     string
	Body      string
	ServerRX  int64
	MsgID     string
}

//UsageRow mirrors a row of the nameplate_usage / mailbox_usage tables
type UsageRow struct {
	AppID       string
	Started     int64
	WaitingTime sql.NullInt64
	TotalTime   int64
	Result      string
}

//TransitUsageRow mirrors a row of the transit_usage table
type TransitUsageRow struct {
	Started    int64
	TotalTime  int64
	TotalBytes int64
	Result     string
}

package db

const schemaVersion = 2

const relaySchema = `
CREATE TABLE version (
	version INTEGER NOT NULL
);

-- Relay data

CREATE TABLE apps (
	app_id VARCHAR PRIMARY KEY,
	first_seen INTEGER
);

CREATE TABLE mailboxes (
	app_id VARCHAR,
	id VARCHAR,
	updated INTEGER,
	for_nameplate BOOLEAN,
	PRIMARY KEY (app_id, id)
);
CREATE INDEX idx_mailboxes_updated ON mailboxes (updated);

CREATE TABLE mailbox_sides (
	app_id VARCHAR,
	mailbox_id VARCHAR,
	side VARCHAR,
	opened BOOLEAN,
	added INTEGER,
	mood VARCHAR
);
CREATE INDEX idx_mailbox_sides ON mailbox_sides (app_id, mailbox_id);

CREATE TABLE messages (
	app_id VARCHAR,
	mailbox_id VARCHAR,
	side VARCHAR,
	phase VARCHAR,
	body TEXT,
	server_rx INTEGER,
	msg_id VARCHAR
);
CREATE INDEX idx_messages ON messages (app_id, mailbox_id);

CREATE TABLE nameplates (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	app_id VARCHAR,
	name VARCHAR,
	mailbox_id VARCHAR,
	updated INTEGER
);
CREATE INDEX idx_nameplates ON nameplates (app_id, name);

CREATE TABLE nameplate_sides (
	nameplate_id INTEGER NOT NULL,
	side VARCHAR,
	claimed BOOLEAN,
	added INTEGER
);
CREATE INDEX idx_nameplate_sides ON nameplate_sides (nameplate_id);

CREATE TABLE nameplate_usage (
	app_id VARCHAR,
	started INTEGER,
	waiting_time INTEGER,
	total_time INTEGER,
	result VARCHAR
);

CREATE TABLE mailbox_usage (
	app_id VARCHAR,
	started INTEGER,
	waiting_time INTEGER,
	total_time INTEGER,
	result VARCHAR
);

CREATE TABLE transit_usage (
	started INTEGER,
	total_time INTEGER,
	total_bytes INTEGER,
	result VARCHAR
);
`

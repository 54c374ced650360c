package db

import "fmt"

// schemaFTS defines one external-content FTS5 table per searchable
// entity plus the insert/delete/update triggers that keep it
// mirroring the base table. FTS5 has no in-place term update, so
// the update triggers delete the old terms and insert the new.
// Every statement is IF NOT EXISTS: the whole script is safe to
// (re)apply on every startup.
const schemaFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_fts_i AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_d AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content)
        VALUES('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_u AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content)
        VALUES('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS tool_uses_fts USING fts5(
    input_text,
    tool_name UNINDEXED,
    content='tool_uses',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS tool_uses_fts_i AFTER INSERT ON tool_uses BEGIN
    INSERT INTO tool_uses_fts(rowid, input_text, tool_name)
        VALUES (new.id, new.input_text, new.tool_name);
END;

CREATE TRIGGER IF NOT EXISTS tool_uses_fts_d AFTER DELETE ON tool_uses BEGIN
    INSERT INTO tool_uses_fts(tool_uses_fts, rowid, input_text, tool_name)
        VALUES('delete', old.id, old.input_text, old.tool_name);
END;

CREATE TRIGGER IF NOT EXISTS tool_uses_fts_u AFTER UPDATE ON tool_uses BEGIN
    INSERT INTO tool_uses_fts(tool_uses_fts, rowid, input_text, tool_name)
        VALUES('delete', old.id, old.input_text, old.tool_name);
    INSERT INTO tool_uses_fts(rowid, input_text, tool_name)
        VALUES (new.id, new.input_text, new.tool_name);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS global_history_fts USING fts5(
    display,
    content='global_history',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS global_history_fts_i AFTER INSERT ON global_history BEGIN
    INSERT INTO global_history_fts(rowid, display) VALUES (new.id, new.display);
END;

CREATE TRIGGER IF NOT EXISTS global_history_fts_d AFTER DELETE ON global_history BEGIN
    INSERT INTO global_history_fts(global_history_fts, rowid, display)
        VALUES('delete', old.id, old.display);
END;

CREATE TRIGGER IF NOT EXISTS global_history_fts_u AFTER UPDATE ON global_history BEGIN
    INSERT INTO global_history_fts(global_history_fts, rowid, display)
        VALUES('delete', old.id, old.display);
    INSERT INTO global_history_fts(rowid, display) VALUES (new.id, new.display);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
    subject,
    description,
    content='tasks',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS tasks_fts_i AFTER INSERT ON tasks BEGIN
    INSERT INTO tasks_fts(rowid, subject, description)
        VALUES (new.id, new.subject, new.description);
END;

CREATE TRIGGER IF NOT EXISTS tasks_fts_d AFTER DELETE ON tasks BEGIN
    INSERT INTO tasks_fts(tasks_fts, rowid, subject, description)
        VALUES('delete', old.id, old.subject, old.description);
END;

CREATE TRIGGER IF NOT EXISTS tasks_fts_u AFTER UPDATE ON tasks BEGIN
    INSERT INTO tasks_fts(tasks_fts, rowid, subject, description)
        VALUES('delete', old.id, old.subject, old.description);
    INSERT INTO tasks_fts(rowid, subject, description)
        VALUES (new.id, new.subject, new.description);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS plans_fts USING fts5(
    title,
    content,
    content='plans',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS plans_fts_i AFTER INSERT ON plans BEGIN
    INSERT INTO plans_fts(rowid, title, content)
        VALUES (new.id, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS plans_fts_d AFTER DELETE ON plans BEGIN
    INSERT INTO plans_fts(plans_fts, rowid, title, content)
        VALUES('delete', old.id, old.title, old.content);
END;

CREATE TRIGGER IF NOT EXISTS plans_fts_u AFTER UPDATE ON plans BEGIN
    INSERT INTO plans_fts(plans_fts, rowid, title, content)
        VALUES('delete', old.id, old.title, old.content);
    INSERT INTO plans_fts(rowid, title, content)
        VALUES (new.id, new.title, new.content);
END;
`

func (db *DB) initSearchIndexesLocked() error {
	if _, err := db.writer.Exec(schemaFTS); err != nil {
		return fmt.Errorf("initializing FTS: %w", err)
	}
	return nil
}

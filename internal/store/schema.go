package store

import (
	"fmt"
	"strings"
)

type columnKind int

const (
	kindText columnKind = iota
	kindTime
	kindCount
	kindBool
)

type column struct {
	name    string
	kind    columnKind
	notNull bool
}

// table describes one post table. The column list is the single source for
// both DDL and identifier validation.
type table struct {
	name        string
	conflictKey string
	columns     []column

	// listing columns; empty means the table has no such column
	urlColumn       string
	authorColumn    string
	authorDIDColumn string
	textColumn      string
	createdColumn   string
}

func text(name string) column { return column{name: name, kind: kindText} }
func ts(name string) column { return column{name: name, kind: kindTime} }
func count(name string) column { return column{name: name, kind: kindCount, notNull: true} }
func flag(name string) column { return column{name: name, kind: kindBool} }

var postCounts = []column{count("like_count"), count("repost_count"), count("reply_count")}

var postTables = []*table{
	{
		name:        "bluesky_search_posts",
		conflictKey: "post_uri",
		columns: concat(
			[]column{{name: "post_uri", kind: kindText, notNull: true}, text("post_url"), text("post_cid"), text("text"),
				ts("created_at_post"), ts("indexed_at_post"), text("embed")},
			postCounts,
			[]column{text("did"), text("handle"), text("display_name"), text("bio"),
				count("followers_count"), count("follows_count"), count("posts_count"),
				ts("created_at_profile"), ts("indexed_at_profile"),
				flag("viewer_muted"), flag("viewer_following"), flag("viewer_blocked_by"),
				text("labels"), {name: "collected_at", kind: kindTime, notNull: true}},
		),
		urlColumn:       "post_url",
		authorColumn:    "handle",
		authorDIDColumn: "did",
		textColumn:      "text",
		createdColumn:   "created_at_post",
	},
	{
		name:        "bluesky_user_posts",
		conflictKey: "post_uri",
		columns: concat(
			[]column{text("username"), text("user_id"), text("bio"),
				count("followers_count"), count("follows_count"), count("posts_count"), ts("profile_created_at"),
				{name: "post_uri", kind: kindText, notNull: true}, text("post_cid"), text("post_url"), text("post_text"),
				ts("post_created_at"), ts("post_indexed_at"), text("embed")},
			postCounts,
			[]column{{name: "collected_at", kind: kindTime, notNull: true}},
		),
		urlColumn:       "post_url",
		authorColumn:    "username",
		authorDIDColumn: "user_id",
		textColumn:      "post_text",
		createdColumn:   "post_created_at",
	},
	{
		name:        "bluesky_single_posts",
		conflictKey: "post_uri",
		columns: concat(
			[]column{text("username"), text("user_id"), {name: "post_uri", kind: kindText, notNull: true},
				text("post_cid"), text("post_text"), ts("post_created_at"), ts("post_indexed_at")},
			postCounts,
			[]column{{name: "collected_at", kind: kindTime, notNull: true}},
		),
		authorColumn:    "username",
		authorDIDColumn: "user_id",
		textColumn:      "post_text",
		createdColumn:   "post_created_at",
	},
}

func concat(parts ...[]column) []column {
	var out []column
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func lookupTable(name string) (*table, bool) {
	for _, t := range postTables {
		if t.name == name {
			return t, true
		}
	}
	return nil, false
}

func (t *table) hasColumn(name string) bool {
	for _, c := range t.columns {
		if c.name == name {
			return true
		}
	}
	return false
}

// createStatements returns the DDL for every table in d's dialect.
func createStatements(d dialect) []string {
	stmts := make([]string, 0, len(postTables)*2+1)
	for _, t := range postTables {
		defs := []string{d.idColumn}
		for _, c := range t.columns {
			def := c.name + " " + d.columnType(c.kind)
			if c.notNull {
				def += " NOT NULL"
			}
			if c.kind == kindCount {
				def += fmt.Sprintf(" DEFAULT 0 CHECK (%s >= 0)", c.name)
			}
			defs = append(defs, def)
		}
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", t.conflictKey))

		stmts = append(stmts,
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(defs, ",\n\t")),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_collected_at_idx ON %s (collected_at DESC, post_uri DESC)", t.name, t.name),
		)
	}

	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cursors (
	service TEXT PRIMARY KEY,
	cursor_value %s NOT NULL,
	updated_at %s NOT NULL
)`, d.columnType(kindCount), d.columnType(kindTime)))

	return stmts
}

package store

import (
	"fmt"
	"strings"

	"panorama-rulefinder/internal/model"
)

// dialect holds the SQL that differs between backends. Column names passed
// in are always taken from model.ListFields, never from input.
type dialect interface {
	name() string
	createTable() []string
	// appendMember is an expression appending one bound value to column.
	appendMember(column string) string
	// contains is a predicate true when column holds one bound value.
	contains(column string) string
}

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) createTable() []string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + tableName + " (\n")
	b.WriteString("\trule_id VARCHAR(64) NOT NULL PRIMARY KEY,\n")
	b.WriteString("\trule_name VARCHAR(255) NOT NULL,\n")
	b.WriteString("\tdevice_group VARCHAR(255) NOT NULL,\n")
	for _, f := range model.ListFields {
		fmt.Fprintf(&b, "\t%s JSON NOT NULL,\n", f)
	}
	b.WriteString("\tnegate_source BOOLEAN NOT NULL,\n")
	b.WriteString("\tnegate_destination BOOLEAN NOT NULL,\n")
	b.WriteString("\taction VARCHAR(32) NOT NULL,\n")
	b.WriteString("\tdisabled BOOLEAN NOT NULL,\n")
	b.WriteString("\tINDEX idx_" + tableName + "_device_group (device_group)\n")
	b.WriteString(")")
	return []string{b.String()}
}

func (mysqlDialect) appendMember(column string) string {
	return fmt.Sprintf("JSON_ARRAY_APPEND(%s, '$', ?)", column)
}

func (mysqlDialect) contains(column string) string {
	return fmt.Sprintf("JSON_CONTAINS(%s, JSON_QUOTE(?))", column)
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) createTable() []string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + tableName + " (\n")
	b.WriteString("\trule_id TEXT NOT NULL PRIMARY KEY,\n")
	b.WriteString("\trule_name TEXT NOT NULL,\n")
	b.WriteString("\tdevice_group TEXT NOT NULL,\n")
	for _, f := range model.ListFields {
		fmt.Fprintf(&b, "\t%s TEXT NOT NULL DEFAULT '[]',\n", f)
	}
	b.WriteString("\tnegate_source BOOLEAN NOT NULL,\n")
	b.WriteString("\tnegate_destination BOOLEAN NOT NULL,\n")
	b.WriteString("\taction TEXT NOT NULL,\n")
	b.WriteString("\tdisabled BOOLEAN NOT NULL\n")
	b.WriteString(")")
	return []string{
		b.String(),
		"CREATE INDEX idx_" + tableName + "_device_group ON " + tableName + "(device_group)",
	}
}

func (sqliteDialect) appendMember(column string) string {
	return fmt.Sprintf("json_insert(%s, '$[#]', ?)", column)
}

func (sqliteDialect) contains(column string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s.%s) WHERE json_each.value = ?)", tableName, column)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "mysql", "mariadb":
		return mysqlDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Package journal records batch run history in SQLite.
//
// Each search run gets one row in runs and one row per processed lookup in
// run_items: the term, the last pipeline state, the failure kind and message,
// the number of results and how many HTTP attempts were made. Result records
// themselves are never stored; the journal answers "what ran and what was
// skipped", not "what was found".
//
// Schema changes bump schemaVersion in schema.go; users delete the database to
// adopt the new schema.
package journal

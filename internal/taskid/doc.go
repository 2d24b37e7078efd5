/*
Package taskid provides validated value types for the identifiers the
scheduler works with: unit ids, task kinds and composite task names.

A task name has the canonical form `unit:kind` or `unit:kind:sub`. A unit
id may itself contain one colon (e.g. `@scope:pkg`), so the parser prefers
the colon-free unit reading when a name is ambiguous.

All types are comparable and safe to use as map keys.
*/
package taskid

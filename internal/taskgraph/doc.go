/*
Package taskgraph turns unit metadata and declarative task definitions into
the task graph the executor runs.

For every unit and every task kind mentioned by a definition, the last
matching definition wins. A unit with no matching definition gets no task
of that kind; a matching definition without inputs or outputs produces a
bare task whose input is the whole unit directory.

A task depends on:

  - the kinds listed in DepsInUnit, within its own unit;
  - the kinds listed in DepsInDeps (its own kind by default) of every unit
    in its transitive dependency closure;
  - any explicit extra dependencies.

Output locations are claimed in an outputs.Registry while the graph is
built, so overlapping outputs of different tasks are rejected up front.
*/
package taskgraph

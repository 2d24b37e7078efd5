// Package hclrepo implements protocol.RepoProtocol for workspaces described
// by monogrid.hcl files.
//
// Every monogrid.hcl below the root is read in lexical path order. Files
// declare units and task definitions:
//
//	unit "a" {
//	  path = "libs/a"   # relative to the file; defaults to its directory
//	  deps = ["b"]
//	}
//
//	task "build" {
//	  units          = ["a", "b"]
//	  command        = "make -C ${unit.dir} build"
//	  outputs        = ["dist"]
//	  output "tmp" { purge = "always" }
//	  inputs_in_unit = ["src/**"]
//	  deps_in_deps   = ["build"]
//	}
//
// Task definitions are global. When several definitions of one kind apply
// to a unit, the last one read wins.
//
// Commands are HCL template expressions evaluated against unit, task, run
// and root variables, then run by an embedded POSIX shell in the unit
// directory.
package hclrepo

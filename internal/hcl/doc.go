// Package hcl provides the concrete HCL implementation of the config.Loader
// interface. It is responsible for file discovery, parsing, and translating
// `pipeline` blocks into the format-agnostic config model.
//
// A definition file looks like:
//
//	pipeline "ci" {
//	  concurrency {
//	    group              = "deploy-${branch}"
//	    cancel_in_progress = true
//	  }
//
//	  stage "test" {
//	    kind = "shell"
//	    with = { command = "go test ./..." }
//	  }
//
//	  stage "deploy-staging" {
//	    kind       = "http_request"
//	    depends_on = ["test"]
//	    condition  = branch == "develop"
//
//	    param "environment" {
//	      type    = enum
//	      allowed = ["staging", "production"]
//	      default = "staging"
//	    }
//	  }
//	}
//
// Stage conditions and group keys stay HCL expressions: they are compiled
// once at load time and evaluated against the trigger of each run, with
// `branch`, `event`, `actor` and `vars` in scope.
package hcl

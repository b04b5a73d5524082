// Package configs provides embedded configuration templates for mdsentry.
//
// Templates are embedded at build time so `mdsentry config init` works from
// any distribution. Precedence is documented on config.Load:
//  1. Hardcoded defaults
//  2. User config (~/.config/mdsentry/config.yaml)
//  3. Project config (.mdsentry.yaml)
//  4. Environment variables (MDSENTRY_*)
package configs

import _ "embed"

// UserConfigTemplate is written by `mdsentry config init` to the user
// config path. Every value is commented out so defaults keep applying.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written by `mdsentry config init --project` to
// .mdsentry.yaml next to the documents.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// Package appfs embeds the files shipped with the binaries. The templates are
// embedded with "all:" so that the "_base" email layouts are included.
package appfs

import "embed"

//go:embed migrations all:templates
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "templates/email"
)

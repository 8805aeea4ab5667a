// Package migrations embeds the metadata-store DDL. Files are applied
// in version order by the store's migration runner.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

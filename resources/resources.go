package resources

import "embed"

//go:embed i18n migrations themes
var FS embed.FS

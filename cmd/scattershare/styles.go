package main

import "github.com/recera/scattershare/cmd/scattershare/internal/ui"

var (
	titleStyle   = ui.TitleStyle
	mutedStyle   = ui.MutedStyle
	errorStyle   = ui.ErrorStyle
	successStyle = ui.SuccessStyle
	warningStyle = ui.WarningStyle
	linkStyle    = ui.LinkStyle
)

package service

import (
	"log"

	"github.com/fatih/color"
)

// Announcer receives spoken guidance as it arrives.
type Announcer interface {
	Announce(text string)
}

// ConsoleAnnouncer prints guidance to stdout the way a dashboard would
// speak it.
type ConsoleAnnouncer struct{}

// Announce implements Announcer.
func (ConsoleAnnouncer) Announce(text string) {
	color.New(color.FgHiCyan, color.Bold).Printf("🔊 %s\n", text)
}

// LogAnnouncer routes guidance to the standard logger. Used when stdout
// belongs to a wire protocol and must stay clean.
type LogAnnouncer struct{}

// Announce implements Announcer.
func (LogAnnouncer) Announce(text string) {
	log.Printf("guidance: %s", text)
}

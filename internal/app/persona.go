package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lumora/murmel/internal/backend"
	"github.com/lumora/murmel/internal/config"
)

// profileFetchTimeout bounds the startup profile fetches so a slow backend
// cannot delay the first conversation.
const profileFetchTimeout = 5 * time.Second

// persona is the runtime identity of the device: what the toy says it is,
// which language it listens in, and which voice it speaks with.
type persona struct {
	SystemPrompt string
	Language     string
	VoiceID      string
}

// resolvePersona merges the fleet backend's device and child profiles over
// the config defaults. Every fetch is best effort: when the backend is
// absent or a profile cannot be fetched, the config values stand.
func resolvePersona(ctx context.Context, client *backend.Client, cfg *config.Config, log *slog.Logger) persona {
	p := persona{
		SystemPrompt: cfg.Providers.LLM.SystemPrompt,
		Language:     cfg.Providers.STT.Language,
		VoiceID:      cfg.Providers.TTS.VoiceID,
	}
	if client == nil {
		return p
	}

	fctx, cancel := context.WithTimeout(ctx, profileFetchTimeout)
	defer cancel()

	device, err := client.FetchDeviceProfile(fctx)
	if err != nil {
		log.Warn("device profile unavailable, keeping config persona", "error", err)
	} else {
		if device.PersonaPrompt != "" {
			p.SystemPrompt = device.PersonaPrompt
		}
		if device.VoiceID != "" {
			p.VoiceID = device.VoiceID
		}
	}

	child, err := client.FetchChildProfile(fctx)
	if err != nil {
		log.Warn("child profile unavailable, keeping config persona", "error", err)
		return p
	}
	if child.Language != "" {
		p.Language = child.Language
	}
	p.SystemPrompt += childAddendum(child)
	return p
}

// childAddendum renders the child profile as an extra system prompt
// paragraph. Returns "" when the profile carries no name.
func childAddendum(child *backend.ChildProfile) string {
	if child == nil || child.Name == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\nYou are talking to %s", child.Name)
	if child.Age > 0 {
		fmt.Fprintf(&b, ", a %d-year-old", child.Age)
	}
	b.WriteString(". Stay extremely kid-friendly.")
	if len(child.Interests) > 0 {
		fmt.Fprintf(&b, " They love %s.", strings.Join(child.Interests, ", "))
	}
	return b.String()
}

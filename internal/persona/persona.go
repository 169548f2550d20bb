// Package persona defines the voices kino can reply in.
package persona

import (
	"fmt"
	"strings"
)

// Persona selects the register replies are rendered in. Tool selection is
// persona-independent; only the final wording changes.
type Persona string

const (
	// Casual chats like a movie-buff friend.
	Casual Persona = "casual"
	// Critic writes like a seasoned film critic.
	Critic Persona = "critic"
)

// Default is the persona new sessions start with.
const Default = Casual

// All lists the valid personas.
func All() []Persona {
	return []Persona{Casual, Critic}
}

// Parse validates a persona name.
func Parse(s string) (Persona, error) {
	switch Persona(strings.ToLower(strings.TrimSpace(s))) {
	case Casual:
		return Casual, nil
	case Critic:
		return Critic, nil
	default:
		return "", fmt.Errorf("unknown persona %q (valid: casual, critic)", s)
	}
}

// Style returns the voice instructions injected into the reply prompt.
func (p Persona) Style() string {
	switch p {
	case Critic:
		return "You are a seasoned film critic. Write in polished, formal prose. " +
			"Reference craft where relevant: direction, cinematography, performances, screenwriting. " +
			"Offer measured judgements rather than hype. Never use slang or emoji."
	default:
		return "You are an enthusiastic movie-buff friend. Keep it relaxed and conversational, " +
			"slang and the occasional emoji are fine. Be punchy, skip lectures, share genuine excitement."
	}
}

func (p Persona) String() string {
	return string(p)
}

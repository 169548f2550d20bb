package persona

import "testing"

func TestParse(t *testing.T) {
	cases := map[string]Persona{
		"casual":   Casual,
		"critic":   Critic,
		" CRITIC ": Critic,
		"Casual":   Casual,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := Parse("noir"); err == nil {
		t.Error("expected error for unknown persona")
	}
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty persona")
	}
}

func TestStyleDiffers(t *testing.T) {
	if Casual.Style() == Critic.Style() {
		t.Error("personas share a style")
	}
	for _, p := range All() {
		if p.Style() == "" {
			t.Errorf("%s has empty style", p)
		}
	}
}

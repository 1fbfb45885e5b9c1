package google

import (
	"strings"
	"testing"
)

func TestHTMLToText(t *testing.T) {
	source := `<html><head><style>body { color: red; }</style></head><body>
		<script>track("open");</script>
		<h1>Paradiso Nieuwsbrief</h1>
		<p>Candlelight Concert op 19 en 20 januari.</p>
		<p><a href="https://paradiso.nl/tickets">Koop tickets</a></p>
		<p><a href="#top">Naar boven</a></p>
	</body></html>`

	text := HTMLToText(source)

	if strings.Contains(text, "color: red") {
		t.Fatal("style content must be stripped")
	}
	if strings.Contains(text, "track(") {
		t.Fatal("script content must be stripped")
	}
	if !strings.Contains(text, "Paradiso Nieuwsbrief") {
		t.Fatal("heading text missing")
	}
	if !strings.Contains(text, "Koop tickets (https://paradiso.nl/tickets)") {
		t.Fatalf("anchor target not inlined:\n%s", text)
	}
	if strings.Contains(text, "(#top)") {
		t.Fatal("non-http anchors must not be inlined")
	}
	if !strings.Contains(text, "Naar boven") {
		t.Fatal("non-http anchor text missing")
	}
}

func TestHTMLToTextCollapsesBlankLines(t *testing.T) {
	text := HTMLToText("<div><p>eerste</p><p></p><p>  </p><p>tweede</p></div>")
	if strings.Contains(text, "\n\n") {
		t.Fatalf("blank lines not collapsed:\n%q", text)
	}
	if !strings.Contains(text, "eerste") || !strings.Contains(text, "tweede") {
		t.Fatalf("text content lost:\n%q", text)
	}
}

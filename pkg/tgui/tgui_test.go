package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()
	d, err := Data(" wiz ", "kind", "role")
	if err != nil || d != "wiz:kind:role" {
		t.Fatalf("Data = %q, %v", d, err)
	}
	scope, action, payload, ok := ParseData(d)
	if !ok || scope != "wiz" || action != "kind" || payload != "role" {
		t.Fatalf("ParseData = %q %q %q %v", scope, action, payload, ok)
	}
	if _, _, p, ok := ParseData("wiz:cancel"); !ok || p != "" {
		t.Fatalf("payload-less data: %q %v", p, ok)
	}
	if _, _, _, ok := ParseData("garbage"); ok {
		t.Fatal("garbage parsed")
	}
	if _, err := Data("wiz", "role", strings.Repeat("x", 64)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("long data err = %v", err)
	}
}

func TestEscapingHelpers(t *testing.T) {
	t.Parallel()
	if got := Mention("A&B", 7).String(); got != `<a href="tg://user?id=7">A&amp;B</a>` {
		t.Fatalf("Mention = %s", got)
	}
	if got := JoinH(" ", B("x"), "", Esc("<y>")).String(); got != "<b>x</b> &lt;y&gt;" {
		t.Fatalf("JoinH = %s", got)
	}
	if got := TruncRunes("привет", 3); got != "при…" {
		t.Fatalf("TruncRunes = %q", got)
	}
}

package security

import (
	"strings"
	"testing"
)

func TestBuildConnectSrcAddsWebsocketOrigins(t *testing.T) {
	got := buildConnectSrc([]string{"https://unishop.app", "*", "http://localhost:3000"})

	want := "https://unishop.app wss://unishop.app http://localhost:3000 ws://localhost:3000"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if strings.TrimSpace(buildConnectSrc(nil)) != "" {
		t.Error("Expected no sources for empty origins")
	}
}

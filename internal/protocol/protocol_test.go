package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewParticipantDefaults(t *testing.T) {
	p := NewParticipant("conn1", "a1b2c3d4e5f6a1b2c3d4e5f6")
	if p.ID != "conn1" {
		t.Fatalf("ID = %q, want conn1", p.ID)
	}
	if p.Name != "Anonymous" {
		t.Fatalf("Name = %q, want Anonymous", p.Name)
	}
	if p.Color != "#a1b2c3" {
		t.Fatalf("Color = %q, want #a1b2c3", p.Color)
	}
	if p.X != 0 || p.Y != 0 {
		t.Fatalf("position = (%v, %v), want origin", p.X, p.Y)
	}
}

func TestNewParticipantShortUserID(t *testing.T) {
	p := NewParticipant("conn1", "ab")
	if p.Color != "#ab" {
		t.Fatalf("Color = %q, want #ab", p.Color)
	}
}

func TestCrownSerializesNullHolder(t *testing.T) {
	b, err := json.Marshal(Crown{Time: 12345})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"participantId":null`) {
		t.Fatalf("unheld crown = %s, want participantId null", s)
	}
	if !strings.Contains(s, `"userId":null`) {
		t.Fatalf("unheld crown = %s, want userId null", s)
	}
}

func TestChannelSettingsOmitsUnsetFields(t *testing.T) {
	b, err := json.Marshal(ChannelSettings{Color: "#ecfaed", Visible: true})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(b)
	for _, field := range []string{"color2", "chat", "crownsolo"} {
		if strings.Contains(s, field) {
			t.Fatalf("settings = %s, want %q omitted", s, field)
		}
	}
	if !strings.Contains(s, `"lobby":false`) {
		t.Fatalf("settings = %s, want explicit lobby false", s)
	}
}

func TestEncodeFrameIsArray(t *testing.T) {
	frame, err := EncodeFrame(
		ByeBroadcast{Tag: TagBye, P: "abc"},
		TimeReply{Tag: TagTime, Time: 1, Echo: json.RawMessage(`5`)},
	)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	var events []map[string]any
	if err := json.Unmarshal([]byte(frame), &events); err != nil {
		t.Fatalf("frame is not a JSON array: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0]["m"] != "bye" || events[1]["m"] != "t" {
		t.Fatalf("tags = %v, %v, want bye, t", events[0]["m"], events[1]["m"])
	}
}

func TestNoteBroadcastNullTime(t *testing.T) {
	b, err := json.Marshal(NoteBroadcast{
		Tag:   TagNote,
		Notes: json.RawMessage(`[{"n":"a4"}]`),
		From:  "abc",
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(b), `"t":null`) {
		t.Fatalf("broadcast = %s, want t null when sender omitted it", b)
	}
}

func TestNewChatHistoryEmptyIsArray(t *testing.T) {
	b, err := json.Marshal(NewChatHistory(nil))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(b), `"c":[]`) {
		t.Fatalf("history = %s, want empty array, not null", b)
	}
}

func TestCoerceCoord(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{name: "number", raw: `12.5`, want: 12.5, ok: true},
		{name: "integer", raw: `-3`, want: -3, ok: true},
		{name: "numeric_string", raw: `"45.25"`, want: 45.25, ok: true},
		{name: "non_numeric_string", raw: `"left"`, ok: false},
		{name: "object", raw: `{}`, ok: false},
		{name: "absent", raw: ``, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceCoord(json.RawMessage(tt.raw))
			if ok != tt.ok {
				t.Fatalf("CoerceCoord(%s) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("CoerceCoord(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNotificationOmitsEmptyIDButKeepsEmptyTitle(t *testing.T) {
	title := ""
	b, err := json.Marshal(Notification{
		Tag:      TagNotification,
		Title:    &title,
		Text:     "Unbanned user abc",
		Class:    "short",
		Duration: 5000,
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(b)
	if strings.Contains(s, `"id"`) {
		t.Fatalf("notification = %s, want id omitted", s)
	}
	if !strings.Contains(s, `"title":""`) {
		t.Fatalf("notification = %s, want empty title present", s)
	}
}

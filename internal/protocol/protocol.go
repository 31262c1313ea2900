// Package protocol defines the wire format of the piano relay: every frame is
// a JSON array of events, every event an object tagged by "m".
package protocol

import (
	"encoding/json"
	"strconv"
)

// Client -> server event tags.
const (
	TagHi              = "hi"
	TagBye             = "bye"
	TagListSubscribe   = "+ls"
	TagListUnsubscribe = "-ls"
	TagTime            = "t"
	TagChat            = "a"
	TagNote            = "n"
	TagMove            = "m"
	TagUserset         = "userset"
	TagChannel         = "ch"
	TagChannelSettings = "chset"
	TagChannelOwner    = "chown"
	TagKickban         = "kickban"
	TagUnban           = "unban"
	TagDevices         = "devices"
)

// Server -> client only tags.
const (
	TagQuotaParams  = "nq"
	TagList         = "ls"
	TagPresence     = "p"
	TagChatHistory  = "c"
	TagNotification = "notification"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is a client's projection inside one channel.
type Participant struct {
	ID     string  `json:"id"`
	UserID string  `json:"_id"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// NewParticipant builds the default participant for a connection: anonymous,
// colored by the user id prefix, parked at the origin.
func NewParticipant(connectionID, userID string) Participant {
	color := userID
	if len(color) > 6 {
		color = color[:6]
	}
	return Participant{
		ID:     connectionID,
		UserID: userID,
		Name:   "Anonymous",
		Color:  "#" + color,
	}
}

// Crown is the room ownership token. A nil ParticipantID means the crown is
// unclaimed; UserID then records who last held it.
type Crown struct {
	ParticipantID *string  `json:"participantId"`
	UserID        *string  `json:"userId"`
	Time          int64    `json:"time"`
	StartPos      Position `json:"startPos"`
	EndPos        Position `json:"endPos"`
}

type ChannelSettings struct {
	Color     string  `json:"color"`
	Color2    *string `json:"color2,omitempty"`
	Lobby     bool    `json:"lobby"`
	Visible   bool    `json:"visible"`
	Chat      *bool   `json:"chat,omitempty"`
	Crownsolo *bool   `json:"crownsolo,omitempty"`
}

// ChatEnabled reports whether chat is switched on; an unset field means off
// for regular channels (special channels set it explicitly on creation).
func (s ChannelSettings) ChatEnabled() bool {
	return s.Chat != nil && *s.Chat
}

func (s ChannelSettings) CrownsoloEnabled() bool {
	return s.Crownsolo != nil && *s.Crownsolo
}

// ChannelInfo is the "ch" view of a channel sent on join and settings change.
// Crown serializes as null for special channels.
type ChannelInfo struct {
	ID       string          `json:"_id"`
	Settings ChannelSettings `json:"settings"`
	Crown    *Crown          `json:"crown"`
}

// ChannelSummary is one directory entry. Crown is null for lobbies.
type ChannelSummary struct {
	ID       string          `json:"_id"`
	Count    int             `json:"count"`
	Crown    *Crown          `json:"crown"`
	Settings ChannelSettings `json:"settings"`
}

// Server -> client events.

type HiReply struct {
	Tag     string      `json:"m"`
	User    Participant `json:"u"`
	Time    int64       `json:"t"`
	Version string      `json:"v"`
	MOTD    string      `json:"motd"`
}

type TimeReply struct {
	Tag  string          `json:"m"`
	Time int64           `json:"t"`
	Echo json.RawMessage `json:"e"`
}

type ListMessage struct {
	Tag      string           `json:"m"`
	Complete bool             `json:"c"`
	Channels []ChannelSummary `json:"u"`
}

type ChatBroadcast struct {
	Tag     string      `json:"m"`
	Content string      `json:"a"`
	From    Participant `json:"p"`
	Time    int64       `json:"t"`
}

// NoteBroadcast relays a note batch verbatim; Time serializes as null when the
// sender omitted it.
type NoteBroadcast struct {
	Tag   string          `json:"m"`
	Time  json.RawMessage `json:"t"`
	Notes json.RawMessage `json:"n"`
	From  string          `json:"p"`
}

type MoveBroadcast struct {
	Tag string  `json:"m"`
	ID  string  `json:"id"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

type PresenceBroadcast struct {
	Tag    string  `json:"m"`
	ID     string  `json:"id"`
	UserID string  `json:"_id"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

func NewPresenceBroadcast(p Participant) PresenceBroadcast {
	return PresenceBroadcast{
		Tag:    TagPresence,
		ID:     p.ID,
		UserID: p.UserID,
		Name:   p.Name,
		Color:  p.Color,
		X:      p.X,
		Y:      p.Y,
	}
}

type ChannelUpdate struct {
	Tag     string        `json:"m"`
	Channel ChannelInfo   `json:"ch"`
	People  []Participant `json:"ppl"`
	P       string        `json:"p,omitempty"`
}

// ChatHistory carries the stored chat log on join. Messages are the serialized
// "a" events exactly as they were broadcast.
type ChatHistory struct {
	Tag      string            `json:"m"`
	Messages []json.RawMessage `json:"c"`
}

func NewChatHistory(messages []json.RawMessage) ChatHistory {
	if messages == nil {
		messages = []json.RawMessage{}
	}
	return ChatHistory{Tag: TagChatHistory, Messages: messages}
}

type ByeBroadcast struct {
	Tag string `json:"m"`
	P   string `json:"p"`
}

type Notification struct {
	Tag      string  `json:"m"`
	ID       string  `json:"id,omitempty"`
	Title    *string `json:"title,omitempty"`
	Text     string  `json:"text"`
	Class    string  `json:"class"`
	Duration int     `json:"duration"`
}

type DevicesReply struct {
	Tag    string          `json:"m"`
	Status string          `json:"status"`
	List   json.RawMessage `json:"list"`
}

// Client -> server event payloads. Pointer fields distinguish absent from
// zero; absence of a required field drops the event.

type TimeData struct {
	Echo json.RawMessage `json:"e"`
}

type ChatData struct {
	Message *string `json:"message"`
}

type NoteData struct {
	Time  json.RawMessage `json:"t"`
	Notes json.RawMessage `json:"n"`
}

type MoveData struct {
	X json.RawMessage `json:"x"`
	Y json.RawMessage `json:"y"`
}

type UsersetData struct {
	Set *struct {
		Name  *string `json:"name"`
		Color *string `json:"color"`
	} `json:"set"`
}

type ChannelData struct {
	ID *string `json:"_id"`
}

type ChannelSettingsData struct {
	Set *struct {
		Color     *string `json:"color"`
		Visible   *bool   `json:"visible"`
		Chat      *bool   `json:"chat"`
		Crownsolo *bool   `json:"crownsolo"`
	} `json:"set"`
}

type ChannelOwnerData struct {
	ID *string `json:"id"`
}

type KickbanData struct {
	UserID *string `json:"_id"`
	Ms     *uint64 `json:"ms"`
}

type UnbanData struct {
	UserID *string `json:"_id"`
}

type DevicesData struct {
	List json.RawMessage `json:"list"`
}

// EncodeFrame serializes events into one outbound text frame (a JSON array).
func EncodeFrame(events ...any) (string, error) {
	b, err := json.Marshal(events)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CoerceCoord accepts a JSON number or a numeric string, mirroring what piano
// clients actually send for cursor positions.
func CoerceCoord(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

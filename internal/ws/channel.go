package ws

import (
	"strings"
	"sync"

	"piano/internal/identity"
	"piano/internal/protocol"
)

// Channel is one room. Its lock covers settings, crown, and the participant
// map; chat history lives in the history store keyed by channel id.
type Channel struct {
	mu           sync.RWMutex
	id           string
	settings     protocol.ChannelSettings
	crown        *protocol.Crown
	participants map[string]protocol.Participant
}

// isSpecial reports whether id names a lobby-type channel: no crown, chat on,
// settings immutable, never deleted.
func isSpecial(id string) bool {
	return id == "lobby" || strings.HasPrefix(id, "test/")
}

// newChannel builds a channel with its default settings and, for regular
// channels, an unclaimed crown.
func newChannel(id string) *Channel {
	ch := &Channel{
		id:           id,
		participants: make(map[string]protocol.Participant),
	}
	if isSpecial(id) {
		chat := true
		color2 := "#273546"
		ch.settings = protocol.ChannelSettings{
			Color:   "#73b3cc",
			Color2:  &color2,
			Lobby:   true,
			Visible: true,
			Chat:    &chat,
		}
	} else {
		ch.settings = protocol.ChannelSettings{
			Color:   "#ecfaed",
			Visible: true,
		}
		ch.crown = &protocol.Crown{Time: identity.NowMillis()}
	}
	return ch
}

// infoLocked snapshots the "ch" view. Caller holds ch.mu.
func (ch *Channel) infoLocked() protocol.ChannelInfo {
	return protocol.ChannelInfo{
		ID:       ch.id,
		Settings: ch.settings,
		Crown:    copyCrown(ch.crown),
	}
}

// peopleLocked snapshots the participant list. Caller holds ch.mu.
func (ch *Channel) peopleLocked() []protocol.Participant {
	ppl := make([]protocol.Participant, 0, len(ch.participants))
	for _, p := range ch.participants {
		ppl = append(ppl, p)
	}
	return ppl
}

// summaryLocked snapshots the directory entry. The crown is reported as null
// for lobbies. Caller holds ch.mu.
func (ch *Channel) summaryLocked() protocol.ChannelSummary {
	summary := protocol.ChannelSummary{
		ID:       ch.id,
		Count:    len(ch.participants),
		Settings: ch.settings,
	}
	if !ch.settings.Lobby {
		summary.Crown = copyCrown(ch.crown)
	}
	return summary
}

// holdsCrownLocked reports whether cid currently holds the crown. Caller
// holds ch.mu.
func (ch *Channel) holdsCrownLocked(cid string) bool {
	return ch.crown != nil && ch.crown.ParticipantID != nil && *ch.crown.ParticipantID == cid
}

// copyCrown returns an independent copy safe to serialize after the channel
// lock is released.
func copyCrown(crown *protocol.Crown) *protocol.Crown {
	if crown == nil {
		return nil
	}
	c := *crown
	if crown.ParticipantID != nil {
		pid := *crown.ParticipantID
		c.ParticipantID = &pid
	}
	if crown.UserID != nil {
		uid := *crown.UserID
		c.UserID = &uid
	}
	return &c
}

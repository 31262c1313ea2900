package ws

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"piano/internal/identity"
	"piano/internal/protocol"
)

const (
	serverVersion = "1.0.0"
	motd          = "Welcome to Multiplayer Piano!"

	maxChatLen      = 256
	maxNameLen      = 40
	maxChannelIDLen = 512

	moveMinIntervalMs = 50
	maxBanDurationMs  = 24 * 60 * 60 * 1000

	// awkwardChannel is where kickbanned clients are parked. The redirect
	// goes through the regular join path; the fresh ban names the source
	// channel, so the ban check there passes.
	awkwardChannel = "test/awkward"
)

// HandleEvent routes one decoded event from cid by its "m" tag. Replies go
// back through the originating connection's sink; handlers that broadcast use
// the registry fan-out.
func (r *Registry) HandleEvent(cid string, raw json.RawMessage) {
	var tag struct {
		M string `json:"m"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil || tag.M == "" {
		r.log.Warn("malformed event", "cid", cid, "error", err)
		r.metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}
	r.metrics.EventsReceived.WithLabelValues(tag.M).Inc()

	switch tag.M {
	case protocol.TagHi:
		r.handleHi(cid)
	case protocol.TagBye:
		r.Disconnect(cid)
	case protocol.TagListSubscribe:
		r.handleListSubscribe(cid)
	case protocol.TagListUnsubscribe:
		r.unsubscribeList(cid)
	case protocol.TagTime:
		r.handleTime(cid, raw)
	case protocol.TagChat:
		r.handleChat(cid, raw)
	case protocol.TagNote:
		r.handleNote(cid, raw)
	case protocol.TagMove:
		r.handleMove(cid, raw)
	case protocol.TagUserset:
		r.handleUserset(cid, raw)
	case protocol.TagChannel:
		r.handleChannel(cid, raw)
	case protocol.TagChannelSettings:
		r.handleChannelSettings(cid, raw)
	case protocol.TagChannelOwner:
		r.handleChannelOwner(cid, raw)
	case protocol.TagKickban:
		r.handleKickban(cid, raw)
	case protocol.TagUnban:
		r.handleUnban(cid, raw)
	case protocol.TagDevices:
		r.handleDevices(cid, raw)
	default:
		r.log.Warn("unknown message tag", "cid", cid, "tag", tag.M)
		r.metrics.EventsDropped.WithLabelValues("unknown_tag").Inc()
	}
}

// handleHi resets the client to its default participant and replies with the
// greeting and the quota parameters.
func (r *Registry) handleHi(cid string) {
	cd, ok := r.Client(cid)
	if !ok {
		return
	}

	cd.mu.Lock()
	participant := protocol.NewParticipant(cid, cd.userID)
	cd.participant = &participant
	params := cd.quota.Params()
	cd.mu.Unlock()

	r.reply(cid, protocol.HiReply{
		Tag:     protocol.TagHi,
		User:    participant,
		Time:    identity.NowMillis(),
		Version: serverVersion,
		MOTD:    motd,
	}, params)
}

func (r *Registry) handleListSubscribe(cid string) {
	r.subscribeList(cid)
	r.reply(cid, protocol.ListMessage{
		Tag:      protocol.TagList,
		Complete: true,
		Channels: r.visibleChannels(),
	})
}

func (r *Registry) handleTime(cid string, raw json.RawMessage) {
	var data protocol.TimeData
	if err := json.Unmarshal(raw, &data); err != nil || data.Echo == nil {
		return
	}
	r.reply(cid, protocol.TimeReply{
		Tag:  protocol.TagTime,
		Time: identity.NowMillis(),
		Echo: data.Echo,
	})
}

func (r *Registry) handleChat(cid string, raw json.RawMessage) {
	var data protocol.ChatData
	if err := json.Unmarshal(raw, &data); err != nil || data.Message == nil {
		return
	}
	message := *data.Message
	if message == "" || len(message) > maxChatLen {
		r.metrics.EventsDropped.WithLabelValues("chat_invalid").Inc()
		return
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}
	cd.mu.RLock()
	channelID := cd.channelID
	var participant protocol.Participant
	if cd.participant != nil {
		participant = *cd.participant
	}
	hasParticipant := cd.participant != nil
	cd.mu.RUnlock()
	if channelID == "" || !hasParticipant {
		return
	}

	ch, ok := r.channel(channelID)
	if !ok {
		return
	}
	ch.mu.RLock()
	chatEnabled := ch.settings.ChatEnabled()
	ch.mu.RUnlock()
	if !chatEnabled {
		r.metrics.EventsDropped.WithLabelValues("chat_disabled").Inc()
		return
	}

	event := protocol.ChatBroadcast{
		Tag:     protocol.TagChat,
		Content: message,
		From:    participant,
		Time:    identity.NowMillis(),
	}

	// History append is best effort; the live broadcast still goes out.
	if payload, err := json.Marshal(event); err != nil {
		r.log.Error("encoding chat message", "cid", cid, "error", err)
	} else if err := r.store.Append(channelID, payload); err != nil {
		r.log.Error("storing chat message", "channel", channelID, "error", err)
	}

	r.BroadcastToChannel(channelID, "", event)
}

func (r *Registry) handleNote(cid string, raw json.RawMessage) {
	var data protocol.NoteData
	if err := json.Unmarshal(raw, &data); err != nil || data.Notes == nil {
		return
	}
	var notes []json.RawMessage
	if err := json.Unmarshal(data.Notes, &notes); err != nil {
		return
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}

	cd.mu.Lock()
	allowed := cd.quota.Spend(len(notes))
	channelID := cd.channelID
	cd.mu.Unlock()

	if !allowed {
		r.metrics.NotesRejected.Inc()
		r.log.Debug("note quota exceeded", "cid", cid, "notes", len(notes))
		r.reply(cid, protocol.Notification{
			Tag:      protocol.TagNotification,
			Text:     "You're playing too fast! Slow down.",
			Class:    "short",
			Duration: 2000,
		})
		return
	}

	if channelID == "" {
		return
	}
	ch, ok := r.channel(channelID)
	if !ok {
		return
	}

	ch.mu.RLock()
	crownsolo := ch.settings.CrownsoloEnabled()
	holdsCrown := ch.holdsCrownLocked(cid)
	hasCrown := ch.crown != nil
	ch.mu.RUnlock()

	if crownsolo && hasCrown && !holdsCrown {
		r.metrics.EventsDropped.WithLabelValues("crownsolo").Inc()
		return
	}

	r.BroadcastToChannel(channelID, cid, protocol.NoteBroadcast{
		Tag:   protocol.TagNote,
		Time:  data.Time,
		Notes: data.Notes,
		From:  cid,
	})
}

func (r *Registry) handleMove(cid string, raw json.RawMessage) {
	var data protocol.MoveData
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	x, ok := protocol.CoerceCoord(data.X)
	if !ok {
		return
	}
	y, ok := protocol.CoerceCoord(data.Y)
	if !ok {
		return
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}

	now := identity.NowMillis()
	cd.mu.Lock()
	if cd.lastMoveTime != 0 && now-cd.lastMoveTime < moveMinIntervalMs {
		cd.mu.Unlock()
		r.metrics.EventsDropped.WithLabelValues("move_throttled").Inc()
		return
	}
	cd.lastMoveTime = now
	if cd.participant != nil {
		cd.participant.X = x
		cd.participant.Y = y
	}
	channelID := cd.channelID
	cd.mu.Unlock()

	if channelID == "" {
		return
	}

	r.BroadcastToChannel(channelID, cid, protocol.MoveBroadcast{
		Tag: protocol.TagMove,
		ID:  cid,
		X:   x,
		Y:   y,
	})
}

func (r *Registry) handleUserset(cid string, raw json.RawMessage) {
	var data protocol.UsersetData
	if err := json.Unmarshal(raw, &data); err != nil || data.Set == nil || data.Set.Name == nil {
		return
	}
	name := strings.TrimSpace(*data.Set.Name)
	if name == "" || len(name) > maxNameLen {
		r.metrics.EventsDropped.WithLabelValues("name_invalid").Inc()
		return
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}

	cd.mu.Lock()
	if cd.participant != nil {
		cd.participant.Name = name
		if data.Set.Color != nil {
			cd.participant.Color = *data.Set.Color
		}
	}
	channelID := cd.channelID
	var participant protocol.Participant
	hasParticipant := cd.participant != nil
	if hasParticipant {
		participant = *cd.participant
	}
	cd.mu.Unlock()

	if channelID == "" || !hasParticipant {
		return
	}

	r.BroadcastToChannel(channelID, "", protocol.NewPresenceBroadcast(participant))
}

func (r *Registry) handleChannel(cid string, raw json.RawMessage) {
	var data protocol.ChannelData
	if err := json.Unmarshal(raw, &data); err != nil || data.ID == nil {
		return
	}
	r.joinChannel(cid, *data.ID)
}

// joinChannel implements the join/switch protocol; the kickban redirect
// reuses it verbatim.
func (r *Registry) joinChannel(cid, target string) {
	if len(target) > maxChannelIDLen {
		target = "lobby"
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}
	userID := cd.UserID()

	now := identity.NowMillis()
	if ban, ok := r.banFor(userID); ok && ban.ChannelID == target && ban.Expiry > now {
		until := time.Unix(ban.Expiry/1000, 0).UTC().Format(time.RFC3339)
		r.reply(cid, protocol.Notification{
			Tag:      protocol.TagNotification,
			ID:       fmt.Sprintf("Notification-ban-%d", now),
			Title:    strPtr(""),
			Text:     fmt.Sprintf("You are banned from %s until %s.", target, until),
			Class:    "short",
			Duration: 5000,
		})
		return
	}

	cd.mu.Lock()
	oldChannelID := cd.channelID
	if oldChannelID == target {
		oldChannelID = ""
	}
	cd.channelID = target
	if cd.participant == nil {
		p := protocol.NewParticipant(cid, userID)
		cd.participant = &p
	}
	participant := *cd.participant
	cd.mu.Unlock()

	if oldChannelID != "" {
		r.leaveChannel(cid, oldChannelID)
	}

	info, ppl, created := r.addParticipant(target, participant, userID, now)
	if created {
		r.log.Info("channel created", "channel", target)
	}

	chatHistory, err := r.store.History(target)
	if err != nil {
		r.log.Error("loading chat history", "channel", target, "error", err)
		chatHistory = nil
	}

	r.reply(cid,
		protocol.ChannelUpdate{Tag: protocol.TagChannel, Channel: info, People: ppl, P: cid},
		protocol.NewChatHistory(chatHistory),
	)
	r.BroadcastToChannel(target, cid, protocol.NewPresenceBroadcast(participant))
	r.BroadcastListUpdate(target, false)
}

func (r *Registry) handleChannelSettings(cid string, raw json.RawMessage) {
	var data protocol.ChannelSettingsData
	if err := json.Unmarshal(raw, &data); err != nil || data.Set == nil {
		return
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}
	cd.mu.RLock()
	channelID := cd.channelID
	cd.mu.RUnlock()
	if channelID == "" {
		return
	}

	ch, ok := r.channel(channelID)
	if !ok {
		return
	}

	ch.mu.Lock()
	if isSpecial(ch.id) || !ch.holdsCrownLocked(cid) {
		ch.mu.Unlock()
		r.metrics.EventsDropped.WithLabelValues("not_crown_holder").Inc()
		return
	}

	wasVisible := ch.settings.Visible
	if data.Set.Color != nil {
		ch.settings.Color = *data.Set.Color
	}
	if data.Set.Visible != nil {
		ch.settings.Visible = *data.Set.Visible
	}
	if data.Set.Chat != nil {
		chat := *data.Set.Chat
		ch.settings.Chat = &chat
	}
	if data.Set.Crownsolo != nil {
		crownsolo := *data.Set.Crownsolo
		ch.settings.Crownsolo = &crownsolo
	}
	nowVisible := ch.settings.Visible
	info := ch.infoLocked()
	ppl := ch.peopleLocked()
	ch.mu.Unlock()

	r.BroadcastToChannel(channelID, "", protocol.ChannelUpdate{
		Tag:     protocol.TagChannel,
		Channel: info,
		People:  ppl,
	})
	if wasVisible && !nowVisible {
		// The per-channel update would be suppressed for a now-hidden
		// channel; send the full list so subscribers see it vanish.
		r.BroadcastListFull()
	} else {
		r.BroadcastListUpdate(channelID, false)
	}
}

func (r *Registry) handleChannelOwner(cid string, raw json.RawMessage) {
	var data protocol.ChannelOwnerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}
	cd.mu.RLock()
	channelID := cd.channelID
	var owner protocol.Participant
	hasParticipant := cd.participant != nil
	if hasParticipant {
		owner = *cd.participant
	}
	cd.mu.RUnlock()
	if channelID == "" || !hasParticipant {
		return
	}

	// Resolve the transfer target before taking the channel lock. An unknown
	// target degrades to a release below.
	var target *protocol.Participant
	if data.ID != nil {
		if targetCD, ok := r.Client(*data.ID); ok {
			targetCD.mu.RLock()
			if targetCD.participant != nil {
				p := *targetCD.participant
				target = &p
			}
			targetCD.mu.RUnlock()
		}
	}

	ch, ok := r.channel(channelID)
	if !ok {
		return
	}

	now := identity.NowMillis()
	ch.mu.Lock()
	if ch.settings.Lobby || ch.crown == nil || !ch.holdsCrownLocked(cid) {
		ch.mu.Unlock()
		r.metrics.EventsDropped.WithLabelValues("not_crown_holder").Inc()
		return
	}

	// Transfer only to a participant of this channel; anything else releases.
	if target != nil {
		if _, present := ch.participants[target.ID]; !present {
			target = nil
		}
	}

	if target != nil {
		*ch.crown = protocol.Crown{
			ParticipantID: strPtr(target.ID),
			UserID:        strPtr(target.UserID),
			Time:          now,
			StartPos:      protocol.Position{X: owner.X, Y: owner.Y},
			EndPos:        protocol.Position{X: target.X, Y: target.Y},
		}
	} else {
		// Releasing keeps the releaser's user id on record while the
		// holder slot goes empty.
		*ch.crown = protocol.Crown{
			UserID:   strPtr(owner.UserID),
			Time:     now,
			StartPos: protocol.Position{X: owner.X, Y: owner.Y},
			EndPos:   protocol.Position{X: owner.X, Y: owner.Y},
		}
	}
	info := ch.infoLocked()
	ppl := ch.peopleLocked()
	ch.mu.Unlock()

	r.BroadcastToChannel(channelID, "", protocol.ChannelUpdate{
		Tag:     protocol.TagChannel,
		Channel: info,
		People:  ppl,
	})
}

func (r *Registry) handleKickban(cid string, raw json.RawMessage) {
	var data protocol.KickbanData
	if err := json.Unmarshal(raw, &data); err != nil || data.UserID == nil || data.Ms == nil {
		return
	}
	targetUserID := *data.UserID
	durationMs := int64(min(*data.Ms, maxBanDurationMs))

	cd, ok := r.Client(cid)
	if !ok {
		return
	}
	cd.mu.RLock()
	channelID := cd.channelID
	bannerName := ""
	if cd.participant != nil {
		bannerName = cd.participant.Name
	}
	hasParticipant := cd.participant != nil
	cd.mu.RUnlock()
	bannerUserID := cd.UserID()
	if channelID == "" || !hasParticipant {
		return
	}

	ch, ok := r.channel(channelID)
	if !ok {
		return
	}
	ch.mu.RLock()
	lobby := ch.settings.Lobby
	holdsCrown := ch.holdsCrownLocked(cid)
	ch.mu.RUnlock()
	if lobby || !holdsCrown {
		r.metrics.EventsDropped.WithLabelValues("not_crown_holder").Inc()
		return
	}

	targetCID, targetName, found := r.findInChannel(targetUserID, channelID)
	if !found {
		return
	}

	now := identity.NowMillis()
	r.ban(targetUserID, BanInfo{ChannelID: channelID, Expiry: now + durationMs})
	r.log.Info("user banned", "channel", channelID, "user", targetUserID, "duration_ms", durationMs)

	r.joinChannel(targetCID, awkwardChannel)

	secs := durationMs / 1000
	r.reply(targetCID, protocol.Notification{
		Tag:      protocol.TagNotification,
		ID:       fmt.Sprintf("ban-%d", identity.NowMillis()),
		Title:    strPtr(""),
		Text:     fmt.Sprintf("You have been banned from %s for %d seconds.", channelID, secs),
		Class:    "short",
		Duration: 5000,
	})

	text := fmt.Sprintf("%s banned %s for %d seconds.", bannerName, targetName, secs)
	if targetUserID == bannerUserID {
		text = fmt.Sprintf("Let it be known that %s kickbanned him/her self.", bannerName)
	}
	r.BroadcastToChannel(channelID, "", protocol.Notification{
		Tag:      protocol.TagNotification,
		ID:       fmt.Sprintf("ban-%d", identity.NowMillis()),
		Title:    strPtr(""),
		Text:     text,
		Class:    "short",
		Duration: 5000,
	})
}

func (r *Registry) handleUnban(cid string, raw json.RawMessage) {
	var data protocol.UnbanData
	if err := json.Unmarshal(raw, &data); err != nil || data.UserID == nil {
		return
	}

	cd, ok := r.Client(cid)
	if !ok {
		return
	}
	cd.mu.RLock()
	channelID := cd.channelID
	cd.mu.RUnlock()
	if channelID == "" {
		return
	}

	ch, ok := r.channel(channelID)
	if !ok {
		return
	}
	ch.mu.RLock()
	lobby := ch.settings.Lobby
	holdsCrown := ch.holdsCrownLocked(cid)
	ch.mu.RUnlock()
	if lobby || !holdsCrown {
		r.metrics.EventsDropped.WithLabelValues("not_crown_holder").Inc()
		return
	}

	r.unban(*data.UserID)

	r.BroadcastToChannel(channelID, "", protocol.Notification{
		Tag:      protocol.TagNotification,
		ID:       fmt.Sprintf("unban-%d", identity.NowMillis()),
		Title:    strPtr(""),
		Text:     fmt.Sprintf("Unbanned user %s", *data.UserID),
		Class:    "short",
		Duration: 5000,
	})
}

func (r *Registry) handleDevices(cid string, raw json.RawMessage) {
	var data protocol.DevicesData
	if err := json.Unmarshal(raw, &data); err != nil || data.List == nil {
		return
	}
	r.reply(cid, protocol.DevicesReply{
		Tag:    protocol.TagDevices,
		Status: "received",
		List:   data.List,
	})
}

// findInChannel locates the connection in channelID whose client has the
// given user id.
func (r *Registry) findInChannel(userID, channelID string) (cid, name string, found bool) {
	r.mu.RLock()
	type entry struct {
		cid string
		cd  *ClientData
	}
	candidates := make([]entry, 0, len(r.clients))
	for id, cd := range r.clients {
		candidates = append(candidates, entry{cid: id, cd: cd})
	}
	r.mu.RUnlock()

	for _, e := range candidates {
		if e.cd.UserID() != userID {
			continue
		}
		e.cd.mu.RLock()
		inChannel := e.cd.channelID == channelID
		if inChannel && e.cd.participant != nil {
			name = e.cd.participant.Name
		}
		e.cd.mu.RUnlock()
		if inChannel {
			return e.cid, name, true
		}
	}
	return "", "", false
}

func strPtr(s string) *string {
	return &s
}

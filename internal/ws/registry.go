// Package ws implements the in-memory session state machine of the piano
// relay: clients, channels, crowns, bans, the directory subscription, and the
// broadcast fan-out over per-connection outbound sinks.
package ws

import (
	"log/slog"
	"sync"

	"piano/internal/history"
	"piano/internal/identity"
	"piano/internal/metrics"
	"piano/internal/protocol"
	"piano/internal/quota"
)

// ClientData is the per-connection-id server-side state. userID is fixed at
// creation; the lock covers the mutable fields.
type ClientData struct {
	mu           sync.RWMutex
	userID       string
	participant  *protocol.Participant
	channelID    string
	lastMoveTime int64
	quota        *quota.NoteQuota
}

func newClientData(userID string) *ClientData {
	return &ClientData{
		userID: userID,
		quota:  quota.New(),
	}
}

// UserID never changes after creation and may be read without the lock.
func (cd *ClientData) UserID() string {
	return cd.userID
}

type BanInfo struct {
	ChannelID string
	Expiry    int64
}

// Registry owns the five process-wide maps. Its own lock covers only map
// membership; each Channel and ClientData carries its own lock. Handlers
// never hold two entity locks at once and release entity locks before
// broadcasting.
type Registry struct {
	mu             sync.RWMutex
	channels       map[string]*Channel
	clients        map[string]*ClientData
	subscribedToLs map[string]struct{}
	bannedUsers    map[string]BanInfo
	senders        map[string]*Sink

	store   *history.Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewRegistry(store *history.Store, m *metrics.Metrics) *Registry {
	return &Registry{
		channels:       make(map[string]*Channel),
		clients:        make(map[string]*ClientData),
		subscribedToLs: make(map[string]struct{}),
		bannedUsers:    make(map[string]BanInfo),
		senders:        make(map[string]*Sink),
		store:          store,
		metrics:        m,
		log:            slog.With("component", "ws"),
	}
}

// EnsureClient returns the client record for cid, creating it on first
// connection.
func (r *Registry) EnsureClient(cid, userID string) *ClientData {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cd, ok := r.clients[cid]; ok {
		return cd
	}
	cd := newClientData(userID)
	r.clients[cid] = cd
	r.metrics.ClientsActive.Set(float64(len(r.clients)))
	return cd
}

func (r *Registry) Client(cid string) (*ClientData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cd, ok := r.clients[cid]
	return cd, ok
}

// ensureChannel returns the channel, lazily creating it with defaults.
func (r *Registry) ensureChannel(id string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[id]; ok {
		return ch, false
	}
	ch := newChannel(id)
	r.channels[id] = ch
	r.metrics.ChannelsActive.Set(float64(len(r.channels)))
	return ch, true
}

// addParticipant inserts p into the channel named id, creating the channel if
// needed, and hands an unheld crown to p. The insert holds the registry read
// lock and re-checks that the channel object is still the registered one, so
// a concurrent deleteChannelIfEmpty of a drained channel cannot strand the
// joiner in an orphaned object; if the channel vanished, the insert retries
// against a fresh one.
func (r *Registry) addParticipant(
	id string,
	p protocol.Participant,
	userID string,
	now int64,
) (info protocol.ChannelInfo, ppl []protocol.Participant, created bool) {
	for {
		ch, didCreate := r.ensureChannel(id)
		created = created || didCreate

		r.mu.RLock()
		if r.channels[id] != ch {
			r.mu.RUnlock()
			continue
		}

		ch.mu.Lock()
		ch.participants[p.ID] = p
		if ch.crown != nil && ch.crown.ParticipantID == nil {
			holder := p.ID
			holderUserID := userID
			ch.crown.ParticipantID = &holder
			ch.crown.UserID = &holderUserID
			ch.crown.Time = now
		}
		info = ch.infoLocked()
		ppl = ch.peopleLocked()
		ch.mu.Unlock()
		r.mu.RUnlock()
		return info, ppl, created
	}
}

func (r *Registry) channel(id string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// deleteChannelIfEmpty removes a drained non-special channel. The emptiness
// check and the map removal happen under both locks so a concurrent join
// cannot be lost.
func (r *Registry) deleteChannelIfEmpty(id string) bool {
	if isSpecial(id) {
		return false
	}

	r.mu.Lock()
	ch, ok := r.channels[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	ch.mu.Lock()
	empty := len(ch.participants) == 0
	if empty {
		delete(r.channels, id)
		r.metrics.ChannelsActive.Set(float64(len(r.channels)))
	}
	ch.mu.Unlock()
	r.mu.Unlock()

	if !empty {
		return false
	}

	if err := r.store.DropChannel(id); err != nil {
		r.log.Error("dropping chat history", "channel", id, "error", err)
	}
	r.log.Info("channel deleted", "channel", id)
	r.BroadcastListFull()
	return true
}

func (r *Registry) subscribeList(cid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribedToLs[cid] = struct{}{}
}

func (r *Registry) unsubscribeList(cid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribedToLs, cid)
}

func (r *Registry) listSubscribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]string, 0, len(r.subscribedToLs))
	for cid := range r.subscribedToLs {
		subs = append(subs, cid)
	}
	return subs
}

func (r *Registry) ban(userID string, info BanInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bannedUsers[userID] = info
}

func (r *Registry) banFor(userID string) (BanInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.bannedUsers[userID]
	return info, ok
}

func (r *Registry) unban(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bannedUsers, userID)
}

// RegisterSender installs the outbound sink for cid. A reconnect with the
// same cid replaces the previous sink.
func (r *Registry) RegisterSender(cid string, sink *Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[cid] = sink
}

// RemoveSender removes cid's sink entry, but only if it still belongs to this
// connection; a replacement installed by a reconnect stays.
func (r *Registry) RemoveSender(cid string, sink *Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.senders[cid] == sink {
		delete(r.senders, cid)
	}
}

// SendToClient enqueues an already-serialized frame and reports whether a
// sink accepted it; unknown cids are a silent no-op.
func (r *Registry) SendToClient(cid, frame string) bool {
	r.mu.RLock()
	sink, ok := r.senders[cid]
	r.mu.RUnlock()
	if ok {
		sink.Enqueue(frame)
	}
	return ok
}

// reply serializes events into one frame for the originating connection only.
func (r *Registry) reply(cid string, events ...any) {
	frame, err := protocol.EncodeFrame(events...)
	if err != nil {
		r.log.Error("encoding reply", "cid", cid, "error", err)
		return
	}
	r.SendToClient(cid, frame)
}

// BroadcastToChannel serializes events once and enqueues the frame to every
// member of the channel except exclude (empty string excludes nobody).
func (r *Registry) BroadcastToChannel(channelID string, exclude string, events ...any) {
	ch, ok := r.channel(channelID)
	if !ok {
		r.log.Debug("broadcast to missing channel", "channel", channelID)
		return
	}

	frame, err := protocol.EncodeFrame(events...)
	if err != nil {
		r.log.Error("encoding broadcast", "channel", channelID, "error", err)
		return
	}

	ch.mu.RLock()
	members := make([]string, 0, len(ch.participants))
	for cid := range ch.participants {
		members = append(members, cid)
	}
	ch.mu.RUnlock()

	delivered := 0
	for _, cid := range members {
		if cid != exclude && r.SendToClient(cid, frame) {
			delivered++
		}
	}
	if delivered > 0 {
		r.metrics.Broadcasts.WithLabelValues("channel").Inc()
	}
}

// BroadcastListUpdate sends one channel's directory entry to every
// subscriber. Invisible channels are not announced.
func (r *Registry) BroadcastListUpdate(channelID string, bulk bool) {
	ch, ok := r.channel(channelID)
	if !ok {
		return
	}

	ch.mu.RLock()
	visible := ch.settings.Visible
	summary := ch.summaryLocked()
	ch.mu.RUnlock()
	if !visible {
		return
	}

	r.sendToListSubscribers(protocol.ListMessage{
		Tag:      protocol.TagList,
		Complete: bulk,
		Channels: []protocol.ChannelSummary{summary},
	})
}

// BroadcastListFull sends the complete visible-channel list, so subscribers
// observe channels vanishing from the directory.
func (r *Registry) BroadcastListFull() {
	r.sendToListSubscribers(protocol.ListMessage{
		Tag:      protocol.TagList,
		Complete: true,
		Channels: r.visibleChannels(),
	})
}

func (r *Registry) sendToListSubscribers(msg protocol.ListMessage) {
	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		r.log.Error("encoding directory update", "error", err)
		return
	}
	delivered := 0
	for _, cid := range r.listSubscribers() {
		if r.SendToClient(cid, frame) {
			delivered++
		}
	}
	if delivered > 0 {
		r.metrics.Broadcasts.WithLabelValues("directory").Inc()
	}
}

func (r *Registry) visibleChannels() []protocol.ChannelSummary {
	r.mu.RLock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()

	summaries := make([]protocol.ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		ch.mu.RLock()
		if ch.settings.Visible {
			summaries = append(summaries, ch.summaryLocked())
		}
		ch.mu.RUnlock()
	}
	return summaries
}

// Disconnect tears down cid's registry state: it leaves its channel (the
// crown falls to the first remaining participant), the channel is deleted if
// drained, and the client and its subscriptions are removed. The sink entry
// is owned by the connection loop and removed there. Disconnect of an unknown
// cid is a no-op.
func (r *Registry) Disconnect(cid string) {
	cd, ok := r.Client(cid)
	if !ok {
		// The client may already be gone (a bye followed by the socket
		// closing) while a late +ls left a subscription behind.
		r.mu.Lock()
		delete(r.subscribedToLs, cid)
		r.mu.Unlock()
		return
	}

	cd.mu.RLock()
	channelID := cd.channelID
	cd.mu.RUnlock()

	if channelID != "" {
		if ch, ok := r.channel(channelID); ok {
			ch.mu.Lock()
			delete(ch.participants, cid)
			if ch.holdsCrownLocked(cid) {
				ch.crown.ParticipantID = nil
				ch.crown.UserID = nil
			}
			heirCID := ""
			if ch.crown != nil && ch.crown.ParticipantID == nil {
				for remaining := range ch.participants {
					heirCID = remaining
					break
				}
			}
			ch.mu.Unlock()

			if heirCID != "" {
				r.reassignCrown(ch, heirCID)
			}

			r.BroadcastToChannel(channelID, cid, protocol.ByeBroadcast{Tag: protocol.TagBye, P: cid})
			r.deleteChannelIfEmpty(channelID)
		}
	}

	r.mu.Lock()
	delete(r.subscribedToLs, cid)
	delete(r.clients, cid)
	r.metrics.ClientsActive.Set(float64(len(r.clients)))
	r.mu.Unlock()

	r.log.Info("client disconnected", "cid", cid)
}

// reassignCrown hands an unheld crown to heirCID. The heir's user id is
// looked up between the two critical sections to keep entity locks disjoint;
// the assignment re-checks that the heir is still present.
func (r *Registry) reassignCrown(ch *Channel, heirCID string) {
	userID := ""
	if heir, ok := r.Client(heirCID); ok {
		userID = heir.UserID()
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.crown == nil || ch.crown.ParticipantID != nil {
		return
	}
	if _, present := ch.participants[heirCID]; !present {
		return
	}
	ch.crown.ParticipantID = &heirCID
	ch.crown.UserID = &userID
	ch.crown.Time = identity.NowMillis()
}

// leaveChannel removes cid from its old channel on a switch. The crown holder
// slot is cleared but, unlike disconnect, not reassigned.
func (r *Registry) leaveChannel(cid, channelID string) {
	ch, ok := r.channel(channelID)
	if !ok {
		return
	}

	ch.mu.Lock()
	delete(ch.participants, cid)
	if ch.holdsCrownLocked(cid) {
		ch.crown.ParticipantID = nil
		ch.crown.UserID = nil
	}
	ch.mu.Unlock()

	r.BroadcastToChannel(channelID, cid, protocol.ByeBroadcast{Tag: protocol.TagBye, P: cid})
	r.deleteChannelIfEmpty(channelID)
}

// Shutdown closes every outbound sink so connection writers drain and exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sinks := make([]*Sink, 0, len(r.senders))
	for _, sink := range r.senders {
		sinks = append(sinks, sink)
	}
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Close()
	}
	r.log.Info("shutdown complete")
}

// ConnectionCount reports the number of registered outbound sinks.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders)
}

func (r *Registry) clientSnapshot() []*ClientData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*ClientData, 0, len(r.clients))
	for _, cd := range r.clients {
		clients = append(clients, cd)
	}
	return clients
}

package turn

import (
	"context"
	"sync"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
	"github.com/convoq/convoq/policy"
)

// Manager hands out one Coordinator per conversation, selecting the policy
// from the conversation's settings. Coordinators are rebuilt (and their
// caches dropped) when the settings mode changes.
type Manager struct {
	events       core.EventStore
	participants core.ParticipantStore
	settings     core.SettingsStore
	states       core.TurnStateStore
	typing       core.TypingStore
	broadcaster  core.Broadcaster
	logger       logging.Logger
	coordOpts    []func(o *Options)

	mu     sync.Mutex
	coords map[string]*managed
}

type managed struct {
	mode  core.TurnPolicyMode
	coord *Coordinator
}

// ManagerOptions configures a Manager. Coordinator options are forwarded to
// every Coordinator the Manager builds.
type ManagerOptions struct {
	States      core.TurnStateStore
	Typing      core.TypingStore
	Broadcaster core.Broadcaster
	Logger      logging.Logger
	Coordinator []func(o *Options)
}

// NewManager constructs a Manager over the given stores.
func NewManager(
	events core.EventStore,
	participants core.ParticipantStore,
	settings core.SettingsStore,
	optFns ...func(o *ManagerOptions),
) *Manager {
	opts := ManagerOptions{
		Broadcaster: core.NoOpBroadcaster{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		events:       events,
		participants: participants,
		settings:     settings,
		states:       opts.States,
		typing:       opts.Typing,
		broadcaster:  opts.Broadcaster,
		logger:       opts.Logger,
		coordOpts:    opts.Coordinator,
		coords:       make(map[string]*managed),
	}
}

// For returns the Coordinator for a conversation, building it from the
// conversation's current settings mode.
func (m *Manager) For(ctx context.Context, conversationID string) (*Coordinator, error) {
	settings, err := m.settings.GetSettings(ctx, conversationID)
	if err != nil {
		return nil, &core.StorageError{Op: "get settings", Err: err}
	}
	mode := settings.TurnMode
	if !mode.Valid() {
		mode = core.DefaultMode
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.coords[conversationID]; ok && mc.mode == mode {
		return mc.coord, nil
	}

	pol := policy.ForMode(mode, func(o *policy.Options) { o.Logger = m.logger })
	coord := NewCoordinator(conversationID, pol, m.events, m.participants, func(o *Options) {
		o.States = m.states
		o.Typing = m.typing
		o.Broadcaster = m.broadcaster
		o.Logger = m.logger
		for _, fn := range m.coordOpts {
			fn(o)
		}
	})
	m.coords[conversationID] = &managed{mode: mode, coord: coord}
	return coord, nil
}

// Invalidate drops the cached turn state for a conversation, forcing the
// next read to refold the log. Called after every append and settings change.
func (m *Manager) Invalidate(conversationID string) {
	m.mu.Lock()
	mc, ok := m.coords[conversationID]
	m.mu.Unlock()
	if ok {
		mc.coord.Invalidate()
	}
}

// Forget removes the coordinator for a conversation entirely. The next For
// call rebuilds it from settings; used when the policy mode changes.
func (m *Manager) Forget(conversationID string) {
	m.mu.Lock()
	delete(m.coords, conversationID)
	m.mu.Unlock()
}

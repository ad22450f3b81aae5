// Package presence merges the four presence signals of the peer (tracked
// presence sync, status row poll, own heartbeat and activity broadcasts) into
// one PresenceView.
package presence

import (
	"calcchat/backend/internal/config"
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/storage"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StatusStore reads and writes the persisted status rows.
type StatusStore interface {
	GetUserStatus(ctx context.Context, name models.Identity) (*models.UserStatus, error)
	UpsertUserStatus(ctx context.Context, status *models.UserStatus) error
}

// Tracker is the ephemeral presence roster.
type Tracker interface {
	Track(ctx context.Context, meta models.PresenceMeta) error
	Untrack(ctx context.Context, id models.Identity) error
	Refresh(ctx context.Context, meta models.PresenceMeta) error
}

// Labels are the texts of the status header and the activity indicator.
type Labels struct {
	Online             string
	Offline            string
	Typing             string
	Recording          string
	TypingIndicator    string
	RecordingIndicator string
}

func DefaultLabels() Labels {
	return Labels{
		Online:             "Online",
		Offline:            "Offline",
		Typing:             "typing...",
		Recording:          "voice....",
		TypingIndicator:    "typing...",
		RecordingIndicator: "recording audio...",
	}
}

type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	FreshnessWindow   time.Duration
	ActivityExpiry    time.Duration
	Clock             Clock
	Labels            *Labels
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = config.PollInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = config.HeartbeatInterval
	}
	if o.FreshnessWindow <= 0 {
		o.FreshnessWindow = config.FreshnessWindow
	}
	if o.ActivityExpiry <= 0 {
		o.ActivityExpiry = config.ActivityExpiry
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Labels == nil {
		l := DefaultLabels()
		o.Labels = &l
	}
	return o
}

// Reconciler owns the PresenceView of the peer as seen by one identity.
// Listeners run under the reconciler lock and must not block.
type Reconciler struct {
	me      models.Identity
	target  models.Identity
	store   StatusStore
	tracker Tracker
	opts    Options

	mu       sync.Mutex
	online   bool
	activity models.ActivityType
	visible  bool
	timer    Timer
	timerGen uint64

	onChange func(models.PresenceView)
	onOnline func()
}

func NewReconciler(me models.Identity, store StatusStore, tracker Tracker, opts Options) *Reconciler {
	return &Reconciler{
		me:      me,
		target:  me.Peer(),
		store:   store,
		tracker: tracker,
		opts:    opts.withDefaults(),
	}
}

// OnChange registers the listener for every view change.
func (r *Reconciler) OnChange(fn func(models.PresenceView)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// OnOnline registers the listener for the offline → online edge.
func (r *Reconciler) OnOnline(fn func()) {
	r.mu.Lock()
	r.onOnline = fn
	r.mu.Unlock()
}

func (r *Reconciler) View() models.PresenceView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view()
}

func (r *Reconciler) TargetOnline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

func (r *Reconciler) view() models.PresenceView {
	l := r.opts.Labels
	v := models.PresenceView{TargetIsOnline: r.online, CurrentActivity: r.activity, Label: l.Offline}
	if r.online {
		v.Label = l.Online
	}
	switch r.activity {
	case models.ActivityTyping:
		v.Label, v.Indicator = l.Typing, l.TypingIndicator
	case models.ActivityRecording:
		v.Label, v.Indicator = l.Recording, l.RecordingIndicator
	}
	return v
}

func (r *Reconciler) notify() {
	if r.onChange != nil {
		r.onChange(r.view())
	}
}

// setOnline must be called with mu held. Only an actual change is propagated.
func (r *Reconciler) setOnline(online bool) {
	if online == r.online {
		return
	}
	r.online = online
	r.notify()
	if online && r.onOnline != nil {
		r.onOnline()
	}
}

// HandlePresenceSync applies a roster snapshot of the presence channel.
func (r *Reconciler) HandlePresenceSync(roster map[models.Identity]models.PresenceMeta) {
	_, found := roster[r.target]
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setOnline(found)
}

// HandleStatusRow applies a status row of the peer, honouring the freshness window.
func (r *Reconciler) HandleStatusRow(status models.UserStatus) {
	if status.Name != r.target {
		return
	}
	fresh := status.IsFresh(r.opts.Clock.Now(), r.opts.FreshnessWindow)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setOnline(fresh)
}

func (r *Reconciler) check(ctx context.Context) error {
	status, err := r.store.GetUserStatus(ctx, r.target)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.HandleStatusRow(*status)
	return nil
}

// Poll is one cycle of the row poll. Failures are logged and dropped.
func (r *Reconciler) Poll(ctx context.Context) {
	if err := r.check(ctx); err != nil {
		logger.Warn("presence poll failed", zap.String("target", string(r.target)), zap.Error(err))
	}
}

// Refresh is the user-initiated poll; its error goes back to the caller.
func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.check(ctx)
}

// Heartbeat writes own freshness while visible.
func (r *Reconciler) Heartbeat(ctx context.Context) {
	r.mu.Lock()
	visible := r.visible
	r.mu.Unlock()
	if !visible {
		return
	}

	now := r.opts.Clock.Now()
	r.writeStatus(ctx, true, now)
	if err := r.tracker.Refresh(ctx, models.PresenceMeta{User: r.me, OnlineAt: now}); err != nil {
		logger.Warn("presence refresh failed", zap.String("user", string(r.me)), zap.Error(err))
	}
}

func (r *Reconciler) writeStatus(ctx context.Context, online bool, at time.Time) {
	status := &models.UserStatus{Name: r.me, Online: online, LastSeen: at}
	if err := r.store.UpsertUserStatus(ctx, status); err != nil {
		logger.Warn("status upsert failed", zap.String("user", string(r.me)), zap.Bool("online", online), zap.Error(err))
	}
}

// HandleActivity applies a typing/recording signal of the peer. One expiry
// timer at most: every event replaces the pending one.
func (r *Reconciler) HandleActivity(evt models.ActivityBroadcast) {
	if evt.User != r.target {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++

	if evt.Status && evt.Type.Valid() {
		r.activity = evt.Type
		gen := r.timerGen
		r.timer = r.opts.Clock.AfterFunc(r.opts.ActivityExpiry, func() { r.expire(gen) })
	} else {
		r.activity = models.ActivityNone
	}
	r.notify()
}

func (r *Reconciler) expire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.timerGen {
		return
	}
	r.timer = nil
	if r.activity == models.ActivityNone {
		return
	}
	r.activity = models.ActivityNone
	r.notify()
}

// SetVisible is the foreground/background hook: track and write online on
// visible, untrack and write offline on hidden. Best effort.
func (r *Reconciler) SetVisible(ctx context.Context, visible bool) {
	r.mu.Lock()
	r.visible = visible
	r.mu.Unlock()

	now := r.opts.Clock.Now()
	if visible {
		if err := r.tracker.Track(ctx, models.PresenceMeta{User: r.me, OnlineAt: now}); err != nil {
			logger.Warn("presence track failed", zap.String("user", string(r.me)), zap.Error(err))
		}
	} else {
		if err := r.tracker.Untrack(ctx, r.me); err != nil {
			logger.Warn("presence untrack failed", zap.String("user", string(r.me)), zap.Error(err))
		}
	}
	r.writeStatus(ctx, visible, now)
}

// Start marks self visible and runs the initial row check unless the roster
// already reported the peer.
func (r *Reconciler) Start(ctx context.Context) {
	r.SetVisible(ctx, true)
	if !r.TargetOnline() {
		r.Poll(ctx)
	}
}

// Run drives the poll and heartbeat loops until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	poll := r.opts.Clock.NewTicker(r.opts.PollInterval)
	heartbeat := r.opts.Clock.NewTicker(r.opts.HeartbeatInterval)
	defer poll.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C():
			r.Poll(ctx)
		case <-heartbeat.C():
			r.Heartbeat(ctx)
		}
	}
}

// Stop leaves the roster, writes offline and drops the pending activity timer.
func (r *Reconciler) Stop(ctx context.Context) {
	r.SetVisible(ctx, false)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

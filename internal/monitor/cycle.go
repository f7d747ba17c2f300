// Package monitor runs the monitoring cycle: it walks the enabled accounts,
// picks out new posts and stories and relays them, then marks them seen.
//
// The posts pass and the stories pass run concurrently. Inside a pass
// accounts are handled one at a time and a failing account never stops the
// others. An item is marked seen only after it was delivered, so a crash in
// between can deliver it twice.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/source"
	"github.com/bryan-buckman/instarelay/internal/watermark"
)

// Pass names used in logs and metrics.
const (
	PassPosts   = "posts"
	PassStories = "stories"
)

// Accounts is the registry view a cycle reads. It is queried on every pass.
type Accounts interface {
	List(ctx context.Context) ([]model.Account, error)
	Enabled(ctx context.Context) ([]model.Account, error)
}

// Relayer delivers one item to a channel.
type Relayer interface {
	Relay(ctx context.Context, channelID, username string, item model.ContentItem) error
}

// CycleConfig configures a Cycle.
type CycleConfig struct {
	Registry   Accounts
	Source     source.Source
	Relay      Relayer
	Watermarks *watermark.Store
	Posts      bool
	Stories    bool
	Logger     logging.Logger
	Metrics    *Metrics

	// Policy applies to TryRun. Under PolicySerialize only one cycle runs
	// at a time, whether started by the scheduler or on demand.
	Policy Policy
}

// Result summarizes one cycle.
type Result struct {
	CycleID  string        `json:"cycle_id"`
	Relayed  int           `json:"relayed"`
	Errors   int           `json:"errors"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// PassResult summarizes one pass over the enabled accounts.
type PassResult struct {
	Accounts int
	Relayed  int
	Errors   int
}

// Cycle is one monitoring run over all enabled accounts. It is safe to run
// several cycles at once.
type Cycle struct {
	registry   Accounts
	source     source.Source
	relay      Relayer
	watermarks *watermark.Store
	detector   *Detector
	posts      bool
	stories    bool
	logger     logging.Logger
	metrics    *Metrics
	policy     Policy
	running    atomic.Bool

	mu           sync.Mutex
	lastStarted  time.Time
	lastFinished time.Time
}

// NewCycle creates a monitoring cycle.
func NewCycle(cfg CycleConfig) *Cycle {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cycle{
		registry:   cfg.Registry,
		source:     cfg.Source,
		relay:      cfg.Relay,
		watermarks: cfg.Watermarks,
		detector:   NewDetector(cfg.Watermarks),
		posts:      cfg.Posts,
		stories:    cfg.Stories,
		logger:     logger,
		metrics:    cfg.Metrics,
		policy:     cfg.Policy,
	}
}

// ErrCycleRunning is returned by TryRun under PolicySerialize while another
// cycle is in flight.
var ErrCycleRunning = errors.New("monitoring cycle already running")

// TryRun runs a cycle subject to the overlap policy. Under PolicySerialize
// it returns ErrCycleRunning instead of starting a second cycle.
func (c *Cycle) TryRun(ctx context.Context) (Result, error) {
	if c.policy == PolicySerialize {
		if !c.running.CompareAndSwap(false, true) {
			return Result{}, ErrCycleRunning
		}
		defer c.running.Store(false)
	}
	return c.Run(ctx), nil
}

// Run executes both passes and waits for them. Failures are logged and
// counted in the result; Run itself never fails.
func (c *Cycle) Run(ctx context.Context) Result {
	res := Result{CycleID: uuid.NewString(), Started: time.Now()}
	log := c.logger.WithField("cycle_id", res.CycleID)

	c.mu.Lock()
	c.lastStarted = res.Started
	c.mu.Unlock()
	c.metrics.cycleStarted()

	log.Info("Starting monitoring cycle")

	var relayed, failed atomic.Int64
	record := func(pr PassResult) {
		relayed.Add(int64(pr.Relayed))
		failed.Add(int64(pr.Errors))
	}

	var g errgroup.Group
	g.Go(func() error {
		pr, err := c.guardPass(ctx, log, PassPosts, c.postsPass)
		if err != nil {
			log.WithError(err).WithField("pass", PassPosts).Error("Posts pass failed")
			failed.Add(1)
		}
		record(pr)
		return nil
	})
	g.Go(func() error {
		pr, err := c.guardPass(ctx, log, PassStories, c.storiesPass)
		if err != nil {
			log.WithError(err).WithField("pass", PassStories).Error("Stories pass failed")
			failed.Add(1)
		}
		record(pr)
		return nil
	})
	_ = g.Wait()

	res.Relayed = int(relayed.Load())
	res.Errors = int(failed.Load())
	res.Duration = time.Since(res.Started)

	c.mu.Lock()
	c.lastFinished = time.Now()
	c.mu.Unlock()
	c.metrics.cycleFinished(res.Duration)

	log.WithFields(logging.Fields{
		"relayed":  res.Relayed,
		"errors":   res.Errors,
		"duration": res.Duration.String(),
	}).Info("Monitoring cycle completed")
	return res
}

// guardPass turns a panic inside a pass into an error.
func (c *Cycle) guardPass(ctx context.Context, log *logrus.Entry, pass string, fn func(context.Context, *logrus.Entry) (PassResult, error)) (pr PassResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s pass: %v", pass, r)
		}
	}()
	return fn(ctx, log.WithField("pass", pass))
}

// CheckPosts relays the latest post of every enabled account if it is new.
// It is a no-op when post monitoring is disabled.
func (c *Cycle) CheckPosts(ctx context.Context) (PassResult, error) {
	return c.postsPass(ctx, c.logger.WithField("pass", PassPosts))
}

// CheckStories relays every unseen active story of every enabled account in
// source order. It is a no-op when story monitoring is disabled.
func (c *Cycle) CheckStories(ctx context.Context) (PassResult, error) {
	return c.storiesPass(ctx, c.logger.WithField("pass", PassStories))
}

func (c *Cycle) postsPass(ctx context.Context, log *logrus.Entry) (PassResult, error) {
	if !c.posts {
		return PassResult{}, nil
	}
	return c.eachAccount(ctx, log, PassPosts, c.checkAccountPosts)
}

func (c *Cycle) storiesPass(ctx context.Context, log *logrus.Entry) (PassResult, error) {
	if !c.stories {
		return PassResult{}, nil
	}
	return c.eachAccount(ctx, log, PassStories, c.checkAccountStories)
}

type accountCheck func(ctx context.Context, account model.Account, log *logrus.Entry) (int, error)

func (c *Cycle) eachAccount(ctx context.Context, log *logrus.Entry, pass string, check accountCheck) (PassResult, error) {
	var pr PassResult
	accounts, err := c.registry.Enabled(ctx)
	if err != nil {
		return pr, fmt.Errorf("load accounts: %w", err)
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("Pass cancelled")
			return pr, nil
		}
		pr.Accounts++

		alog := log.WithFields(logging.Fields{"username": account.Username, "channel_id": account.ChannelID})
		n, err := guardAccount(ctx, account, alog, check)
		pr.Relayed += n
		if err != nil {
			pr.Errors++
			c.metrics.accountError(pass)
			alog.WithError(err).Error("Account check failed")
		}
	}
	return pr, nil
}

func guardAccount(ctx context.Context, account model.Account, log *logrus.Entry, check accountCheck) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return check(ctx, account, log)
}

func (c *Cycle) checkAccountPosts(ctx context.Context, account model.Account, log *logrus.Entry) (int, error) {
	log.Debug("Checking posts")
	posts, err := c.source.LatestPosts(ctx, account.Username, 1)
	if err != nil {
		return 0, err
	}
	post, ok := c.detector.LatestPost(account.Username, posts)
	if !ok {
		return 0, nil
	}

	postLog := log.WithField("post_id", post.ID)
	postLog.Info("New post found")
	err = c.relay.Relay(ctx, account.ChannelID, account.Username, post)
	c.metrics.relayDone(model.KindPost, err)
	if err != nil {
		return 0, fmt.Errorf("relay post %s: %w", post.ID, err)
	}
	// The item is out; record it even if the cycle is being cancelled.
	if err := c.watermarks.MarkPostSeen(context.WithoutCancel(ctx), account.Username, post.ID); err != nil {
		return 1, err
	}
	postLog.Info("Post relayed")
	return 1, nil
}

// checkAccountStories stops at the first story that fails so later stories
// are not marked ahead of it.
func (c *Cycle) checkAccountStories(ctx context.Context, account model.Account, log *logrus.Entry) (int, error) {
	log.Debug("Checking stories")
	stories, err := c.source.ActiveStories(ctx, account.Username)
	if source.IsNotFound(err) {
		log.WithError(err).Debug("No stories available")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	relayed := 0
	for _, story := range stories {
		if !c.detector.IsNewStory(account.Username, story) {
			continue
		}
		storyLog := log.WithField("story_id", story.ID)
		storyLog.Info("New story found")
		err := c.relay.Relay(ctx, account.ChannelID, account.Username, story)
		c.metrics.relayDone(model.KindStory, err)
		if err != nil {
			return relayed, fmt.Errorf("relay story %s: %w", story.ID, err)
		}
		relayed++
		if err := c.watermarks.MarkStorySeen(context.WithoutCancel(ctx), account.Username, story.ID); err != nil {
			return relayed, err
		}
		storyLog.Info("Story relayed")
	}
	return relayed, nil
}

// Status reports the registry and watermark state.
func (c *Cycle) Status(ctx context.Context) (model.CycleStatus, error) {
	accounts, err := c.registry.List(ctx)
	if err != nil {
		return model.CycleStatus{}, fmt.Errorf("load accounts: %w", err)
	}

	status := model.CycleStatus{
		TotalAccounts: len(accounts),
		Accounts:      make(map[string]model.AccountStatus, len(accounts)),
	}
	for _, a := range accounts {
		if a.Enabled {
			status.EnabledAccounts++
		}
		lastPost, seen := c.watermarks.Snapshot(a.Username)
		status.Accounts[a.Username] = model.AccountStatus{
			Enabled:        a.Enabled,
			ChannelID:      a.ChannelID,
			LastPostID:     lastPost,
			SeenStoryCount: seen,
		}
	}

	c.mu.Lock()
	status.LastCycleStarted = c.lastStarted
	status.LastCycleFinished = c.lastFinished
	c.mu.Unlock()
	return status, nil
}

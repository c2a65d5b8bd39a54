// Package warmup 启动预热与定时刷新：把热门接口的结果提前写入缓存，并定期清理过期条目
package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"marketintel/cache"
	"marketintel/metrics"
	"marketintel/trading"
)

// Task 一个需要预热的接口结果
type Task struct {
	Name string
	Key  string
	TTL  time.Duration
	// Realtime 仅在开盘时段刷新(首轮预热除外)
	Realtime bool
	Load     func(ctx context.Context) (any, error)
}

// Status 预热进度，并发安全
type Status struct {
	mu       sync.Mutex
	running  bool
	runs     int
	total    int
	cached   int
	failed   int
	skipped  int
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

// Snapshot /api/warmup/status 的返回体
type Snapshot struct {
	InProgress      bool       `json:"inProgress"`
	Completed       bool       `json:"completed"`
	Runs            int        `json:"runs"`
	TotalEndpoints  int        `json:"totalEndpoints"`
	CachedEndpoints int        `json:"cachedEndpoints"`
	FailedEndpoints int        `json:"failedEndpoints"`
	Skipped         int        `json:"skippedEndpoints"`
	Progress        float64    `json:"progress"`
	LastRun         *time.Time `json:"lastRun"`
	LastDurationMs  int64      `json:"lastDurationMs"`
	LastError       string     `json:"lastError,omitempty"`
}

func (s *Status) begin(total int, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.total, s.cached, s.failed, s.skipped = total, 0, 0, 0
	s.lastRun = at
	s.lastErr = ""
	return true
}

func (s *Status) record(err error, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case skipped:
		s.skipped++
	case err != nil:
		s.failed++
		s.lastErr = err.Error()
	default:
		s.cached++
	}
}

func (s *Status) finish(took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runs++
	s.lastTook = took
}

func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		InProgress:      s.running,
		Completed:       s.runs > 0,
		Runs:            s.runs,
		TotalEndpoints:  s.total,
		CachedEndpoints: s.cached,
		FailedEndpoints: s.failed,
		Skipped:         s.skipped,
		LastDurationMs:  s.lastTook.Milliseconds(),
		LastError:       s.lastErr,
	}
	if s.total > 0 {
		snap.Progress = float64(s.cached+s.failed+s.skipped) / float64(s.total) * 100
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		snap.LastRun = &t
	}
	return snap
}

// Options 运行参数
type Options struct {
	// Schedule 刷新的 cron 表达式(含秒)，为空则只在启动时预热一次
	Schedule      string
	SweepInterval time.Duration
	// MemoryLimit 进程堆内存上限(字节)，0 表示不检查
	MemoryLimit uint64
	Workers     int
	IsOpen      func() bool
	Now         func() time.Time
}

// Runner 预热执行器
type Runner struct {
	cache  *cache.Cache
	tasks  func() []Task
	opts   Options
	status *Status
	cron   *cron.Cron
}

func NewRunner(c *cache.Cache, tasks func() []Task, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.IsOpen == nil {
		opts.IsOpen = trading.IsMarketOpen
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{cache: c, tasks: tasks, opts: opts, status: &Status{}}
}

func (r *Runner) Status() *Status { return r.status }

type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	log.Debug().Str("kv", fmt.Sprint(kv...)).Msg("[warmup] cron " + msg)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	log.Error().Err(err).Str("kv", fmt.Sprint(kv...)).Msg("[warmup] cron " + msg)
}

// Start 立即在后台跑一轮预热，并注册定时刷新与缓存清理
func (r *Runner) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{})))
	if r.opts.Schedule != "" {
		if _, err := r.cron.AddFunc(r.opts.Schedule, func() { r.Run(ctx, false) }); err != nil {
			return fmt.Errorf("register warmup schedule: %w", err)
		}
	}
	if r.opts.SweepInterval > 0 {
		every := fmt.Sprintf("@every %s", r.opts.SweepInterval)
		if _, err := r.cron.AddFunc(every, r.Maintain); err != nil {
			return fmt.Errorf("register cache sweep: %w", err)
		}
	}
	r.cron.Start()
	go r.Run(ctx, true)
	log.Info().Str("schedule", r.opts.Schedule).Dur("sweep", r.opts.SweepInterval).Msg("[warmup] 调度已启动")
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	log.Info().Msg("[warmup] 调度已停止")
}

// Run 执行一轮预热。上一轮未结束时直接返回 false。
// initial 为 false 时，闭市期间跳过 Realtime 任务。
func (r *Runner) Run(ctx context.Context, initial bool) bool {
	tasks := r.tasks()
	start := r.opts.Now()
	if !r.status.begin(len(tasks), start) {
		log.Debug().Msg("[warmup] 上一轮尚未结束，跳过")
		return false
	}
	open := initial || r.opts.IsOpen()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, t := range tasks {
		if t.Realtime && !open {
			r.status.record(nil, true)
			continue
		}
		g.Go(func() error {
			err := r.runTask(gctx, t)
			r.status.record(err, false)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				log.Warn().Str("task", t.Name).Err(err).Msg("[warmup] 预热失败")
			}
			metrics.WarmupRuns.WithLabelValues("refresh", outcome).Inc()
			return nil
		})
	}
	_ = g.Wait()

	took := time.Since(start)
	r.status.finish(took)
	snap := r.status.Snapshot()
	log.Info().
		Int("cached", snap.CachedEndpoints).
		Int("failed", snap.FailedEndpoints).
		Int("skipped", snap.Skipped).
		Dur("took", took).
		Msg("[warmup] 本轮预热完成")
	return true
}

func (r *Runner) runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	v, err := t.Load(ctx)
	if err != nil {
		return err
	}
	r.cache.Set(ctx, t.Key, v, t.TTL)
	return nil
}

// Maintain 清理过期条目，超出内存上限时清空进程内缓存
func (r *Runner) Maintain() {
	n := r.cache.Sweep()
	purged := r.cache.RelieveMemory(r.opts.MemoryLimit, nil)
	metrics.WarmupRuns.WithLabelValues("sweep", "ok").Inc()
	if n > 0 || purged {
		log.Debug().Int("expired", n).Bool("purged", purged).Int("remaining", r.cache.Len()).Msg("[warmup] 缓存清理")
	}
}

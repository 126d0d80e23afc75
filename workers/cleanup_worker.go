package workers

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// SessionReaper closes sessions whose device stayed away too long
type SessionReaper interface {
	ReapDisconnected(grace time.Duration) int
}

// StaleEmergencyCloser resets audit records left active by a restart
type StaleEmergencyCloser interface {
	CloseStale(ctx context.Context, before time.Time) (int64, error)
}

type CleanupWorker struct {
	// Dependencies
	sessions    SessionReaper
	emergencies StaleEmergencyCloser
	redis       *redis.Client

	// Worker configuration
	config CleanupWorkerConfig

	// Worker state
	isRunning bool
	mutex     sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tasks []CleanupTask

	// Metrics
	stats      CleanupWorkerStats
	statsMutex sync.RWMutex
}

type CleanupWorkerConfig struct {
	// How often the scheduler looks for due tasks
	TickInterval time.Duration `json:"tickInterval"`

	SessionGracePeriod     time.Duration `json:"sessionGracePeriod"`
	SessionCleanupInterval time.Duration `json:"sessionCleanupInterval"`

	// Active records older than this are considered abandoned
	StaleEmergencyAge      time.Duration `json:"staleEmergencyAge"`
	EmergencyCloseInterval time.Duration `json:"emergencyCloseInterval"`

	RedisCleanupInterval time.Duration `json:"redisCleanupInterval"`
	RedisKeyPatterns     []string      `json:"redisKeyPatterns"`
}

type CleanupTask struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Interval    time.Duration `json:"interval"`
	LastRun     time.Time     `json:"lastRun"`
	NextRun     time.Time     `json:"nextRun"`
	Enabled     bool          `json:"enabled"`
	Function    func(ctx context.Context) error
}

type CleanupWorkerStats struct {
	TasksExecuted      int64            `json:"tasksExecuted"`
	TasksFailed        int64            `json:"tasksFailed"`
	SessionsReaped     int64            `json:"sessionsReaped"`
	EmergenciesClosed  int64            `json:"emergenciesClosed"`
	RedisKeysCleaned   int64            `json:"redisKeysCleaned"`
	LastCleanupAt      time.Time        `json:"lastCleanupAt"`
	TaskExecutionTimes map[string]int64 `json:"taskExecutionTimes"` // ms
	StartTime          time.Time        `json:"startTime"`
}

func DefaultCleanupWorkerConfig() CleanupWorkerConfig {
	return CleanupWorkerConfig{
		TickInterval:           15 * time.Second,
		SessionGracePeriod:     5 * time.Minute,
		SessionCleanupInterval: 1 * time.Minute,
		StaleEmergencyAge:      1 * time.Hour,
		EmergencyCloseInterval: 30 * time.Minute,
		RedisCleanupInterval:   1 * time.Hour,
		RedisKeyPatterns: []string{
			"rate_limit:*",
			"api_rate_limit:*",
			"emergency_rate_limit:*",
			"ws_rate_limit:*",
			"dev_rate_limit:*",
			"sos_debounce:*",
		},
	}
}

// NewCleanupWorker builds the worker. emergencies and rdb may be nil when
// persistence or Redis is disabled; their tasks are then skipped.
func NewCleanupWorker(sessions SessionReaper, emergencies StaleEmergencyCloser, rdb *redis.Client, config CleanupWorkerConfig) *CleanupWorker {
	ctx, cancel := context.WithCancel(context.Background())

	defaults := DefaultCleanupWorkerConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.SessionGracePeriod <= 0 {
		config.SessionGracePeriod = defaults.SessionGracePeriod
	}
	if config.SessionCleanupInterval <= 0 {
		config.SessionCleanupInterval = defaults.SessionCleanupInterval
	}
	if config.StaleEmergencyAge <= 0 {
		config.StaleEmergencyAge = defaults.StaleEmergencyAge
	}
	if config.EmergencyCloseInterval <= 0 {
		config.EmergencyCloseInterval = defaults.EmergencyCloseInterval
	}
	if config.RedisCleanupInterval <= 0 {
		config.RedisCleanupInterval = defaults.RedisCleanupInterval
	}
	if len(config.RedisKeyPatterns) == 0 {
		config.RedisKeyPatterns = defaults.RedisKeyPatterns
	}

	worker := &CleanupWorker{
		sessions:    sessions,
		emergencies: emergencies,
		redis:       rdb,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		stats: CleanupWorkerStats{
			StartTime:          time.Now(),
			TaskExecutionTimes: make(map[string]int64),
		},
	}

	worker.initializeTasks()

	return worker
}

func (cw *CleanupWorker) Start() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if cw.isRunning {
		return nil
	}

	cw.isRunning = true

	logrus.Info("Starting Cleanup Worker...")

	cw.wg.Add(1)
	go cw.taskScheduler()

	logrus.Infof("Cleanup Worker started with %d tasks", cw.enabledTasks())
	return nil
}

func (cw *CleanupWorker) Stop() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if !cw.isRunning {
		return nil
	}

	logrus.Info("Stopping Cleanup Worker...")

	cw.cancel()
	cw.isRunning = false
	cw.wg.Wait()

	logrus.Info("Cleanup Worker stopped successfully")
	return nil
}

func (cw *CleanupWorker) initializeTasks() {
	cw.tasks = []CleanupTask{
		{
			Name:        "session_reap",
			Description: "Close sessions whose device has been gone past the grace period",
			Interval:    cw.config.SessionCleanupInterval,
			Enabled:     cw.sessions != nil,
			Function:    cw.reapSessions,
		},
		{
			Name:        "stale_emergency_close",
			Description: "Reset emergency records left active by a restart",
			Interval:    cw.config.EmergencyCloseInterval,
			Enabled:     cw.emergencies != nil,
			Function:    cw.closeStaleEmergencies,
		},
		{
			Name:        "redis_cleanup",
			Description: "Delete limiter keys that lost their expiry",
			Interval:    cw.config.RedisCleanupInterval,
			Enabled:     cw.redis != nil,
			Function:    cw.cleanupRedisKeys,
		},
	}

	now := time.Now()
	for i := range cw.tasks {
		cw.tasks[i].NextRun = now.Add(cw.tasks[i].Interval)
	}
}

func (cw *CleanupWorker) enabledTasks() int {
	count := 0
	for _, task := range cw.tasks {
		if task.Enabled {
			count++
		}
	}
	return count
}

func (cw *CleanupWorker) taskScheduler() {
	defer cw.wg.Done()

	ticker := time.NewTicker(cw.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.executeScheduledTasks(time.Now())

		case <-cw.ctx.Done():
			return
		}
	}
}

func (cw *CleanupWorker) executeScheduledTasks(now time.Time) {
	for i := range cw.tasks {
		task := &cw.tasks[i]

		if !task.Enabled || now.Before(task.NextRun) {
			continue
		}

		logrus.Debugf("Executing cleanup task: %s", task.Name)

		startTime := time.Now()
		err := task.Function(cw.ctx)
		executionTime := time.Since(startTime)

		cw.statsMutex.Lock()
		cw.stats.TaskExecutionTimes[task.Name] = executionTime.Milliseconds()
		if err != nil {
			cw.stats.TasksFailed++
			logrus.Errorf("Cleanup task %s failed: %v", task.Name, err)
		} else {
			cw.stats.TasksExecuted++
		}
		cw.statsMutex.Unlock()

		task.LastRun = now
		task.NextRun = now.Add(task.Interval)
	}
}

func (cw *CleanupWorker) reapSessions(ctx context.Context) error {
	reaped := cw.sessions.ReapDisconnected(cw.config.SessionGracePeriod)

	cw.statsMutex.Lock()
	cw.stats.SessionsReaped += int64(reaped)
	cw.stats.LastCleanupAt = time.Now()
	cw.statsMutex.Unlock()

	if reaped > 0 {
		logrus.Infof("Reaped %d disconnected sessions", reaped)
	}
	return nil
}

func (cw *CleanupWorker) closeStaleEmergencies(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	closed, err := cw.emergencies.CloseStale(ctx, time.Now().Add(-cw.config.StaleEmergencyAge))
	if err != nil {
		return err
	}

	cw.statsMutex.Lock()
	cw.stats.EmergenciesClosed += closed
	cw.stats.LastCleanupAt = time.Now()
	cw.statsMutex.Unlock()

	if closed > 0 {
		logrus.Warnf("Closed %d stale emergency records", closed)
	}
	return nil
}

func (cw *CleanupWorker) cleanupRedisKeys(ctx context.Context) error {
	var totalCleaned int64

	for _, pattern := range cw.config.RedisKeyPatterns {
		iter := cw.redis.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()

			ttl, err := cw.redis.TTL(ctx, key).Result()
			if err != nil {
				continue
			}

			// -1 means the key has no expiry and would live forever
			if ttl == -1 {
				if err := cw.redis.Del(ctx, key).Err(); err == nil {
					totalCleaned++
				}
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}

	cw.statsMutex.Lock()
	cw.stats.RedisKeysCleaned += totalCleaned
	cw.stats.LastCleanupAt = time.Now()
	cw.statsMutex.Unlock()

	if totalCleaned > 0 {
		logrus.Infof("Cleaned up %d Redis keys", totalCleaned)
	}
	return nil
}

// GetStats returns a copy of the worker counters
func (cw *CleanupWorker) GetStats() CleanupWorkerStats {
	cw.statsMutex.RLock()
	defer cw.statsMutex.RUnlock()

	stats := cw.stats
	stats.TaskExecutionTimes = make(map[string]int64, len(cw.stats.TaskExecutionTimes))
	for name, ms := range cw.stats.TaskExecutionTimes {
		stats.TaskExecutionTimes[name] = ms
	}
	return stats
}

// StartCleanupWorker creates and starts the worker
func StartCleanupWorker(sessions SessionReaper, emergencies StaleEmergencyCloser, rdb *redis.Client, config CleanupWorkerConfig) *CleanupWorker {
	worker := NewCleanupWorker(sessions, emergencies, rdb, config)

	if err := worker.Start(); err != nil {
		logrus.Errorf("Failed to start cleanup worker: %v", err)
		return nil
	}

	return worker
}

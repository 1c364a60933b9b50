package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/mailbridge/mailbridge/interfaces"
	cron_config "github.com/mailbridge/mailbridge/internal/cron/config"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

const (
	// GroupMailbridge is the group for mailbox sync related jobs
	GroupMailbridge = "mailbridge"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMailbridge: new(sync.Mutex),
	},
}

type CronManager struct {
	log    logger.Logger
	cron   *cronv3.Cron
	k8s    kubernetes.Interface
	stopCh chan struct{}
	jobIDs map[string]cronv3.EntryID

	adapter interfaces.MailboxAdapter
	engine  interfaces.SyncEngine
}

func NewCronManager(log logger.Logger, k8s kubernetes.Interface, adapter interfaces.MailboxAdapter, engine interfaces.SyncEngine) *CronManager {
	return &CronManager{
		log:     log,
		k8s:     k8s,
		stopCh:  make(chan struct{}),
		jobIDs:  make(map[string]cronv3.EntryID),
		adapter: adapter,
		engine:  engine,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "mailbridge-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx := context.Background()
		le.Run(ctx)
	}()

	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
		// Leader election seems to be working, continue normally
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleFolderRefresh != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleFolderRefresh, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailbridge].Lock()
			defer jobLocks.locks[GroupMailbridge].Unlock()
			cm.refreshFolders()
		})
		if err != nil {
			cm.log.Fatalf("Could not add folder refresh cron job: %v", err)
		}
		cm.jobIDs["folder_refresh"] = id
		cm.log.Infof("Registered folder refresh job with schedule: %s", cronConfig.CronScheduleFolderRefresh)
	}

	if cronConfig.CronScheduleDirtyFlush != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleDirtyFlush, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailbridge].Lock()
			defer jobLocks.locks[GroupMailbridge].Unlock()
			cm.flushDirty()
		})
		if err != nil {
			cm.log.Fatalf("Could not add dirty flush cron job: %v", err)
		}
		cm.jobIDs["dirty_flush"] = id
		cm.log.Infof("Registered dirty flush job with schedule: %s", cronConfig.CronScheduleDirtyFlush)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) refreshFolders() {
	cm.log.Info("Running scheduled folder refresh")

	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.refreshFolders")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	folders, err := cm.adapter.Folders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list folders for refresh: %v", err)
		return
	}

	for _, folder := range folders {
		if err := cm.engine.Refresh(ctx, folder.Name); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to refresh folder %s: %v", folder.Name, err)
		}
	}

	cm.log.Info("Completed scheduled folder refresh")
}

func (cm *CronManager) flushDirty() {
	cm.log.Info("Running scheduled dirty flush")

	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.flushDirty")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := cm.engine.FlushDirty(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to flush pending local changes: %v", err)
		return
	}

	cm.log.Info("Completed scheduled dirty flush")
}

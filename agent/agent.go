// Package agent wires the migration engine's configuration into running
// collaborators: one drain/terminate/warning pipeline shared process-wide,
// and one uptime migration worker per configured pool.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/yelp/clusterman/aws"
	"github.com/yelp/clusterman/cluster"
	"github.com/yelp/clusterman/config"
	"github.com/yelp/clusterman/draining"
	"github.com/yelp/clusterman/mesos"
	"github.com/yelp/clusterman/migration"
)

// Agent owns every long-lived collaborator the migration engine needs and
// supervises them with RestartableWorker, so an error in one pool's uptime
// loop doesn't take the rest of the fleet down with it.
type Agent struct {
	log hclog.Logger
	cfg *config.Config

	locks   *migration.LockRegistry
	queue   *draining.DrainingClient
	workers []*migration.RestartableWorker
}

// NewAgent builds an Agent from cfg, ready to Run.
func NewAgent(cfg *config.Config, log hclog.Logger) *Agent {
	return &Agent{
		log:   log,
		cfg:   cfg,
		locks: migration.NewLockRegistry(),
	}
}

// Run blocks until ctx is cancelled, supervising every pool's uptime
// worker and the shared drain/terminate/warning pipelines.
func (a *Agent) Run(ctx context.Context) error {
	creds := aws.StaticCredentials{
		AccessKeyID:     a.cfg.AWSAccessKeyID,
		SecretAccessKey: a.cfg.AWSSecretAccessKey,
		SessionToken:    a.cfg.AWSSessionToken,
	}
	clients, err := aws.NewClients(ctx, a.cfg.Region, creds)
	if err != nil {
		return fmt.Errorf("agent: build aws clients: %w", err)
	}

	a.queue = draining.NewDrainingClient(a.log, clients.SQS, clients.EC2, a.cfg.DrainQueueURL, a.cfg.WarningQueueURL, a.cfg.TerminateQueueURL)

	resourceGroups := make(map[string]draining.Terminator)
	var primaryConnector cluster.ClusterConnector
	var mesosDriver *mesos.Driver

	for _, p := range a.cfg.Pools {
		pool := p

		connector, err := a.buildConnector(pool, &mesosDriver)
		if err != nil {
			return fmt.Errorf("agent: pool %s/%s: %w", pool.Cluster, pool.Pool, err)
		}
		primaryConnector = connector

		cloudGroup := aws.NewASGResourceGroup(a.log, clients.ASG, clients.EC2, pool.ResourceGroupName)
		resourceGroups[pool.ResourceGroupType] = cloudGroup

		manager := cluster.NewPoolManager(a.log, pool.Cluster, pool.Pool, connector, cloudGroup, a.queue)

		setup := workerSetupFromConfig(pool.Worker)
		threshold := time.Duration(pool.UptimeThresholdSeconds) * time.Second
		lock := a.locks.For(pool.Cluster, pool.Pool)

		w := migration.NewRestartableWorker(a.log, ctx, func(wctx context.Context) error {
			return a.runUptimeLoop(wctx, manager, lock, threshold, setup, pool)
		})
		a.workers = append(a.workers, w)
	}

	var mesosMaintainer draining.MesosMaintainer = noopMesosMaintainer{}
	if mesosDriver != nil {
		mesosMaintainer = mesosDriver
	}

	drainPipeline := draining.NewDrainPipeline(a.log, a.queue, primaryConnector)
	terminatePipeline := draining.NewTerminatePipeline(a.log, a.queue, resourceGroups, mesosMaintainer)

	pipelineWorker := migration.NewRestartableWorker(a.log, ctx, func(wctx context.Context) error {
		return a.runPipelineLoop(wctx, drainPipeline, terminatePipeline)
	})
	a.workers = append(a.workers, pipelineWorker)

	for _, w := range a.workers {
		w.Start()
	}

	<-ctx.Done()
	for _, w := range a.workers {
		w.Kill()
	}
	return nil
}

func (a *Agent) buildConnector(p *config.PoolConfig, mesosDriver **mesos.Driver) (cluster.ClusterConnector, error) {
	switch p.Scheduler {
	case "kubernetes":
		clientset, err := buildKubeClient(p.KubeconfigPath)
		if err != nil {
			return nil, err
		}
		return cluster.NewKubernetesConnector(a.log, clientset), nil
	case "mesos":
		if *mesosDriver == nil {
			*mesosDriver = mesos.NewDriver(a.log, p.MesosMasterAddr, 10)
		}
		return *mesosDriver, nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", p.Scheduler)
	}
}

func buildKubeClient(kubeconfigPath string) (kubernetes.Interface, error) {
	restCfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("build kubeconfig: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}

func (a *Agent) runUptimeLoop(ctx context.Context, manager migration.PoolManager, lock *migration.PoolLock, threshold time.Duration, setup migration.WorkerSetup, pool *config.PoolConfig) error {
	ticker := time.NewTicker(migration.UptimeCheckInterval)
	defer ticker.Stop()

	for {
		if err := migration.UptimeMigrationWorker(ctx, a.log, manager, lock, threshold, setup); err != nil {
			a.log.Error("uptime migration worker failed", "cluster", pool.Cluster, "pool", pool.Pool, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Agent) runPipelineLoop(ctx context.Context, drain *draining.DrainPipeline, terminate *draining.TerminatePipeline) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		if _, err := drain.ProcessOne(ctx); err != nil {
			a.log.Error("drain pipeline error", "error", err)
		}
		if _, err := terminate.ProcessOne(ctx); err != nil {
			a.log.Error("terminate pipeline error", "error", err)
		}
		if err := draining.ProcessWarningQueue(ctx, a.queue); err != nil {
			a.log.Error("warning queue error", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// defaultExpectedDuration bounds an event-triggered migration end to end
// when the operator hasn't configured one explicitly.
const defaultExpectedDuration = 30 * time.Minute

// defaultBootstrapWait is how long drainNodeSelection sleeps after
// submitting a chunk before it starts polling pool health, when the
// operator hasn't configured one explicitly.
const defaultBootstrapWait = 30 * time.Second

func workerSetupFromConfig(wc *config.WorkerConfig) migration.WorkerSetup {
	if wc == nil {
		return migration.WorkerSetup{
			Rate:                       migration.NewCountPortion(1),
			Precedence:                 migration.PrecedenceTaskCount,
			BootstrapWait:              defaultBootstrapWait,
			BootstrapTimeoutSeconds:    int(migration.InitialPoolHealthTimeout.Seconds()),
			HealthCheckIntervalSeconds: 30,
			ExpectedDuration:           defaultExpectedDuration,
		}
	}

	rate := migration.NewCountPortion(1)
	if wc.RateFraction > 0 {
		rate = migration.NewFractionPortion(wc.RateFraction)
	} else if wc.RateCount > 0 {
		rate = migration.NewCountPortion(wc.RateCount)
	}

	precedence := migration.PrecedenceTaskCount
	if wc.Precedence == string(migration.PrecedenceUptime) {
		precedence = migration.PrecedenceUptime
	}

	bootstrapWait := time.Duration(wc.BootstrapWaitSeconds) * time.Second
	if bootstrapWait == 0 {
		bootstrapWait = defaultBootstrapWait
	}
	bootstrap := wc.BootstrapTimeoutSeconds
	if bootstrap == 0 {
		bootstrap = int(migration.InitialPoolHealthTimeout.Seconds())
	}
	interval := wc.HealthCheckIntervalSeconds
	if interval == 0 {
		interval = 30
	}
	expectedDuration := time.Duration(wc.ExpectedDurationSeconds) * time.Second
	if expectedDuration == 0 {
		expectedDuration = defaultExpectedDuration
	}

	var prescaling *migration.PoolPortion
	if wc.PrescalingFraction > 0 {
		p := migration.NewFractionPortion(wc.PrescalingFraction)
		prescaling = &p
	} else if wc.PrescalingCount > 0 {
		p := migration.NewCountPortion(wc.PrescalingCount)
		prescaling = &p
	}

	return migration.WorkerSetup{
		Rate:                       rate,
		Precedence:                 precedence,
		BootstrapWait:              bootstrapWait,
		BootstrapTimeoutSeconds:    bootstrap,
		HealthCheckIntervalSeconds: interval,
		IgnorePodHealth:            wc.IgnorePodHealth,
		DisableAutoscaling:         wc.DisableAutoscaling,
		Prescaling:                 prescaling,
		ExpectedDuration:           expectedDuration,
	}
}

type noopMesosMaintainer struct{}

func (noopMesosMaintainer) MesosDown(ctx context.Context, hostname string) error { return nil }
func (noopMesosMaintainer) MesosUp(ctx context.Context, hostname string) error   { return nil }

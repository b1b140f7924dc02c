package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Orchestrator is the part of the scheduling service the cron needs.
type Orchestrator interface {
	Reconcile(ctx context.Context) error
}

// ReconcileCron periodically re-derives and re-arms jobs from event data,
// healing drift caused by events written outside the bot (or by jobs dropped
// after exhausted retries). Startup recovery uses the same path.
type ReconcileCron struct {
	cronEngine   *cron.Cron
	orchestrator Orchestrator
	logger       *logrus.Entry
	spec         string
}

func NewReconcileCron(orchestrator Orchestrator, logger *logrus.Entry, spec string) *ReconcileCron {
	return &ReconcileCron{
		cronEngine:   cron.New(),
		orchestrator: orchestrator,
		logger:       logger,
		spec:         spec,
	}
}

func (r *ReconcileCron) Start() error {
	_, err := r.cronEngine.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.orchestrator.Reconcile(ctx); err != nil {
			r.logger.WithError(err).Error("Periodic reconciliation failed")
			return
		}
		r.logger.Debug("Periodic reconciliation completed")
	})
	if err != nil {
		return err
	}
	r.cronEngine.Start()
	r.logger.WithField("cron_spec", r.spec).Info("Reconcile cron started")
	return nil
}

func (r *ReconcileCron) Stop() {
	ctx := r.cronEngine.Stop() // stops scheduling, waits for running jobs
	<-ctx.Done()
	r.logger.Info("Reconcile cron stopped")
}

package engine

import (
	"context"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
)

var _ = ginkgo.Describe("Runner", func() {
	var (
		ctx    context.Context
		seoul  *time.Location
		clk    *clocktesting.FakePassiveClock
		mem    *store.Memory
		scaler *fakeScaler
		reaper *fakeReaper
		ledger *Ledger
	)

	at := func(hh, mm, ss int) time.Time {
		return time.Date(2024, 5, 1, hh, mm, ss, 0, seoul)
	}

	newRunner := func(st store.Store) *Runner {
		logger := zap.NewNop()
		dispatcher := NewDispatcher(&DispatcherParams{
			Scaler:       scaler,
			Reaper:       reaper,
			Resetter:     NewResetCoordinator(logger, st, clk),
			HighCapacity: 1000,
			Logger:       logger,
		})
		return NewRunner(&RunnerParams{
			Store:      st,
			Dispatcher: dispatcher,
			Window:     schedule.NewWindow(seoul, 60*time.Second),
			Clock:      clk,
			Ledger:     ledger,
			Logger:     logger,
		})
	}

	ginkgo.BeforeEach(func() {
		ctx = WithTrigger(context.Background(), "test")
		seoul = time.FixedZone("KST", 9*60*60)
		clk = clocktesting.NewFakePassiveClock(at(9, 0, 5))
		mem = store.NewMemory(schedule.Record{Cluster: "demo", Start: "09:00", End: "18:00", Kind: schedule.KindDefault})
		scaler = &fakeScaler{}
		reaper = &fakeReaper{ids: []string{"i-0aaa"}}
		ledger = nil
	})

	ginkgo.It("scales up once when a default start is five seconds old", func() {
		report, err := newRunner(mem).RunPass(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(scaler.Calls()).To(Equal([]capacityCall{{Cluster: "demo", CPULimit: 1000}}))
		Expect(reaper.Clusters()).To(BeEmpty())
		Expect(report.Trigger).To(Equal("test"))
		Expect(report.Records).To(Equal(1))
		Expect(report.Evaluated).To(Equal(2))
		Expect(report.Fired).To(Equal(1))
		Expect(report.Failed).To(BeZero())
		Expect(report.PassID).NotTo(BeEmpty())
	})

	ginkgo.It("fires nothing outside the window", func() {
		clk.SetTime(at(9, 1, 1))
		report, err := newRunner(mem).RunPass(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(scaler.Calls()).To(BeEmpty())
		Expect(report.Fired).To(BeZero())
	})

	ginkgo.It("fires at the window edge before the scheduled time", func() {
		clk.SetTime(at(8, 59, 0))
		_, err := newRunner(mem).RunPass(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(scaler.Calls()).To(HaveLen(1))
	})

	ginkgo.It("fails the pass without dispatching when the store cannot be read", func() {
		report, err := newRunner(brokenStore{}).RunPass(ctx)

		Expect(err).To(MatchError(ContainSubstring("connection refused")))
		Expect(err).To(MatchError(store.ErrUnavailable))
		Expect(report.Fired).To(BeZero())
		Expect(scaler.Calls()).To(BeEmpty())
	})

	ginkgo.It("keeps going when a scale call fails", func() {
		_, err := mem.Put(ctx, schedule.Record{Cluster: "other", Start: "09:00", End: "18:00", Kind: schedule.KindDefault})
		Expect(err).NotTo(HaveOccurred())
		scaler.err = context.DeadlineExceeded

		report, err := newRunner(mem).RunPass(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(scaler.Calls()).To(HaveLen(2))
		Expect(report.Fired).To(Equal(2))
		Expect(report.Failed).To(Equal(2))
	})

	ginkgo.Context("with a custom override", func() {
		ginkgo.BeforeEach(func() {
			_, err := mem.Put(ctx, schedule.Record{Cluster: "demo", Start: "10:00", End: "20:00", Kind: schedule.KindCustom})
			Expect(err).NotTo(HaveOccurred())
		})

		ginkgo.It("ignores the default start", func() {
			report, err := newRunner(mem).RunPass(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(scaler.Calls()).To(BeEmpty())
			Expect(report.Evaluated).To(Equal(2))
		})

		ginkgo.It("scales down, terminates and resets the custom schedule at its end", func() {
			clk.SetTime(at(20, 0, 30))
			report, err := newRunner(mem).RunPass(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(scaler.Calls()).To(Equal([]capacityCall{{Cluster: "demo", CPULimit: 0}}))
			Expect(reaper.Clusters()).To(Equal([]string{"demo"}))
			Expect(report.Resets).To(Equal(1))
			Expect(report.Outcomes).To(HaveLen(1))
			Expect(report.Outcomes[0].Terminated).To(Equal([]string{"i-0aaa"}))
			Expect(report.Outcomes[0].Reset).To(Equal(ResetApplied))

			custom, err := mem.Get(ctx, "demo_custom")
			Expect(err).NotTo(HaveOccurred())
			Expect(custom.Start).To(Equal("09:00"))
			Expect(custom.End).To(Equal("18:00"))
			Expect(custom.State).To(Equal(schedule.StateMirror))
			Expect(custom.ResetAt).NotTo(BeNil())
		})

		ginkgo.It("still resets when terminating workers fails", func() {
			reaper.err = context.DeadlineExceeded
			clk.SetTime(at(20, 0, 0))
			report, err := newRunner(mem).RunPass(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Failed).To(Equal(1))
			Expect(report.Resets).To(Equal(1))
		})
	})

	ginkgo.Context("with an occurrence ledger", func() {
		ginkgo.BeforeEach(func() {
			ledger = NewLedger(2 * time.Minute)
		})

		ginkgo.It("dispatches an occurrence once across polls in the same window", func() {
			runner := newRunner(mem)

			_, err := runner.RunPass(ctx)
			Expect(err).NotTo(HaveOccurred())

			clk.SetTime(at(9, 0, 35))
			report, err := runner.RunPass(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Skipped).To(Equal(1))
			Expect(report.Fired).To(BeZero())

			Expect(scaler.Calls()).To(HaveLen(1))
		})

		ginkgo.It("fires the next day again", func() {
			runner := newRunner(mem)
			_, err := runner.RunPass(ctx)
			Expect(err).NotTo(HaveOccurred())

			clk.SetTime(at(9, 0, 5).Add(24 * time.Hour))
			_, err = runner.RunPass(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(scaler.Calls()).To(HaveLen(2))
			Expect(ledger.Len()).To(Equal(1))
		})
	})
})

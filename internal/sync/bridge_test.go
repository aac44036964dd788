package sync

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/translate"
)

var _ = Describe("Bridge", func() {
	var (
		ctx          context.Context
		records      *fakeRecordStore
		tracker      *fakeTracker
		bridge       *Bridge
		factoryCalls int
		factory      ClientFactory
	)

	BeforeEach(func() {
		ctx = context.Background()
		records = newFakeRecordStore()
		tracker = newFakeTracker()
		seedFixture(records, tracker)
		bridge = NewBridge()
		factoryCalls = 0
		factory = func(ctx context.Context) (*Clients, error) {
			factoryCalls++
			return &Clients{Records: records, Tracker: tracker}, nil
		}
	})

	translator := func() translate.Translator {
		GinkgoHelper()
		tr, err := translate.NewDefault("")
		Expect(err).NotTo(HaveOccurred())
		return tr
	}

	Describe("AddProfile", func() {
		It("registers a valid profile", func() {
			Expect(bridge.AddProfile(ctx, testProfile(), translator(), factory)).To(Succeed())
			Expect(bridge.Profiles()).To(ConsistOf("main"))
		})

		It("rejects an unnamed profile", func() {
			p := testProfile()
			p.Name = ""
			Expect(bridge.AddProfile(ctx, p, translator(), factory)).NotTo(Succeed())
		})

		It("rejects a duplicate name", func() {
			Expect(bridge.AddProfile(ctx, testProfile(), translator(), factory)).To(Succeed())
			err := bridge.AddProfile(ctx, testProfile(), translator(), factory)
			Expect(err).To(MatchError(ContainSubstring("duplicate profile")))
		})

		It("surfaces compilation failures at registration", func() {
			delete(tracker.fieldIDs, "Sync Enabled")
			err := bridge.AddProfile(ctx, testProfile(), translator(), factory)
			Expect(err).To(MatchError(ContainSubstring("Sync Enabled")))
		})

		It("rejects a connection failure", func() {
			broken := func(ctx context.Context) (*Clients, error) {
				return nil, errors.New("dial refused")
			}
			err := bridge.AddProfile(ctx, testProfile(), translator(), broken)
			Expect(err).To(MatchError(ContainSubstring("dial refused")))
		})
	})

	Describe("dispatch", func() {
		BeforeEach(func() {
			Expect(bridge.AddProfile(ctx, testProfile(), translator(), factory)).To(Succeed())
		})

		It("returns ErrUnknownProfile for an unregistered name", func() {
			_, err := bridge.ProcessChange(ctx, "nope", model.ChangeEvent{RecordType: "Task", RecordID: "t1", Field: "title"})
			Expect(errors.Is(err, ErrUnknownProfile)).To(BeTrue())

			_, err = bridge.ProcessWebhook(ctx, "nope", model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionUpdated, IssueKey: "PRJ-1",
			})
			Expect(errors.Is(err, ErrUnknownProfile)).To(BeTrue())
		})

		It("reports a rejected event as not synced without an error", func() {
			result, err := bridge.ProcessChange(ctx, "main", model.ChangeEvent{
				RecordType: "Invoice", RecordID: "i1", Field: "title",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeFalse())
		})

		It("runs an accepted event end to end", func() {
			seedTask(records, "t1", nil)

			result, err := bridge.ProcessChange(ctx, "main", model.ChangeEvent{
				RecordType: "Task", RecordID: "t1", Field: "sync_enabled", New: true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())
			Expect(records.get("Task", "t1").String("tracker_key")).NotTo(BeEmpty())
		})

		It("reuses the pooled client pair across dispatches", func() {
			seedTask(records, "t1", nil)
			ev := model.ChangeEvent{RecordType: "Task", RecordID: "t1", Field: "title"}

			_, err := bridge.ProcessChange(ctx, "main", ev)
			Expect(err).NotTo(HaveOccurred())
			_, err = bridge.ProcessChange(ctx, "main", ev)
			Expect(err).NotTo(HaveOccurred())
			Expect(factoryCalls).To(Equal(1))
		})
	})

	Describe("DispatchID", func() {
		It("is zero outside a dispatch", func() {
			Expect(DispatchID(ctx)).To(BeZero())
		})

		It("is set for the duration of a dispatch", func() {
			dispatchCtx := withDispatchID(ctx)
			Expect(DispatchID(dispatchCtx)).NotTo(BeZero())
		})
	})
})

package sync

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tracksync.app/sync-server/internal/model"
)

var _ = Describe("AcceptChange", func() {
	var (
		ctx     context.Context
		records *fakeRecordStore
		tracker *fakeTracker
		engine  *Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		records = newFakeRecordStore()
		tracker = newFakeTracker()
		seedFixture(records, tracker)
		engine = newEngine(records, tracker)
	})

	titleChange := func(recordID string) model.ChangeEvent {
		return model.ChangeEvent{RecordType: "Task", RecordID: recordID, Field: "title", New: "Fix the gate"}
	}

	It("accepts a mapped field change on an eligible record", func() {
		seedTask(records, "t1", nil)

		ok, err := engine.AcceptChange(ctx, titleChange("t1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects an unconfigured record type", func() {
		ok, err := engine.AcceptChange(ctx, model.ChangeEvent{RecordType: "Invoice", RecordID: "i1", Field: "title"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the entity direction excludes record-to-issue", func() {
		mappings := testMappings()
		mappings[0].Direction = model.SyncIssueToRecord
		p := testProfile()
		p.Mappings = mappings
		engine = newEngineWithProfile(records, tracker, p)
		seedTask(records, "t1", nil)

		ok, err := engine.AcceptChange(ctx, titleChange("t1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects deletion events while deletion sync is disabled", func() {
		seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-9"})
		records.trashed["Task/t1"] = true

		ok, err := engine.AcceptChange(ctx, model.ChangeEvent{RecordType: "Task", RecordID: "t1", Field: "trashed", New: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("accepts deletion events once the mapping enables them", func() {
		mappings := testMappings()
		mappings[0].DeletionDirection = model.SyncBothWays
		p := testProfile()
		p.Mappings = mappings
		engine = newEngineWithProfile(records, tracker, p)
		seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-9"})
		records.trashed["Task/t1"] = true

		ok, err := engine.AcceptChange(ctx, model.ChangeEvent{RecordType: "Task", RecordID: "t1", Field: "trashed", New: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects an unmapped field", func() {
		seedTask(records, "t1", nil)

		ok, err := engine.AcceptChange(ctx, model.ChangeEvent{RecordType: "Task", RecordID: "t1", Field: "internal_notes"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the record cannot be fetched", func() {
		ok, err := engine.AcceptChange(ctx, titleChange("missing"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the record's project is not linked to a tracker project", func() {
		records.put("Project", "p2", map[string]any{"tracker_project": ""})
		seedTask(records, "t1", map[string]any{"project": []model.Reference{{Type: "Project", ID: "p2"}}})

		ok, err := engine.AcceptChange(ctx, titleChange("t1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects residual creation events for an already-synced record", func() {
		seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})
		tracker.putIssue("PRJ-7", "PRJ", "Task", "Open", nil)

		ev := titleChange("t1")
		ev.InCreate = true
		ok, err := engine.AcceptChange(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("accepts creation events for a not-yet-synced record", func() {
		seedTask(records, "t1", nil)

		ev := titleChange("t1")
		ev.InCreate = true
		ok, err := engine.AcceptChange(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects when the sync flag is unset", func() {
		seedTask(records, "t1", map[string]any{"sync_enabled": false})

		ok, err := engine.AcceptChange(ctx, titleChange("t1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the issue type is missing in the tracker project", func() {
		seedTask(records, "t1", nil)
		tracker.missingIssueType = true

		ok, err := engine.AcceptChange(ctx, titleChange("t1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the tracker project does not exist", func() {
		seedTask(records, "t1", nil)
		tracker.missingProject = true

		ok, err := engine.AcceptChange(ctx, titleChange("t1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the cross-reference fields are not on the create screen", func() {
		seedTask(records, "t1", nil)
		tracker.screenMissing = true

		ok, err := engine.AcceptChange(ctx, titleChange("t1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	Describe("sub-resource events", func() {
		seedComment := func(id string, taskRef model.Reference) {
			records.put("Comment", id, map[string]any{
				"text":    "looks good",
				"task":    []model.Reference{taskRef},
				"project": []model.Reference{{Type: "Project", ID: "p1"}},
				"author":  []model.Reference{{Type: "User", ID: "u1", Name: "Dev One"}},
			})
		}

		It("accepts when the parent record is synced", func() {
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})
			seedComment("c1", model.Reference{Type: "Task", ID: "t1"})

			ok, err := engine.AcceptChange(ctx, model.ChangeEvent{RecordType: "Comment", RecordID: "c1", Field: "text"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("accepts when the parent carries the sync flag but no key yet", func() {
			seedTask(records, "t1", nil)
			seedComment("c1", model.Reference{Type: "Task", ID: "t1"})

			ok, err := engine.AcceptChange(ctx, model.ChangeEvent{RecordType: "Comment", RecordID: "c1", Field: "text"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("rejects when no parent link points at a synced record", func() {
			seedTask(records, "t1", map[string]any{"sync_enabled": false})
			seedComment("c1", model.Reference{Type: "Task", ID: "t1"})

			ok, err := engine.AcceptChange(ctx, model.ChangeEvent{RecordType: "Comment", RecordID: "c1", Field: "text"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("accepts a parent-link edit whose previous parent was synced", func() {
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})
			records.put("Comment", "c1", map[string]any{
				"text":    "moved away",
				"task":    []model.Reference{},
				"project": []model.Reference{{Type: "Project", ID: "p1"}},
			})

			ok, err := engine.AcceptChange(ctx, model.ChangeEvent{
				RecordType: "Comment", RecordID: "c1", Field: "task",
				Removed: []model.Reference{{Type: "Task", ID: "t1"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})
})

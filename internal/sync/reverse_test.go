package sync

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tracksync.app/sync-server/internal/model"
)

var _ = Describe("AcceptWebhook", func() {
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
		tracker.putIssue("PRJ-7", "PRJ", "Task", "Open", map[string]any{"cf_type": "Task", "cf_sync": true})
	})

	issueUpdated := func() model.WebhookEvent {
		return model.WebhookEvent{
			Resource: model.ResourceIssue, Action: model.ActionUpdated,
			IssueKey: "PRJ-7", ActorAccountID: "acct-dev",
		}
	}

	It("accepts an update on a linked, sync-enabled issue", func() {
		ok, err := engine.AcceptWebhook(ctx, issueUpdated())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects events authored by the integration account", func() {
		ev := issueUpdated()
		ev.ActorAccountID = "acct-self"

		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects unsupported resource kinds and actions", func() {
		ev := issueUpdated()
		ev.Resource = "attachment"
		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		ev = issueUpdated()
		ev.Action = "archived"
		ok, err = engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects comment events when no comment mapping is configured", func() {
		p := testProfile()
		p.Mappings = testMappings()[:1]
		engine = newEngineWithProfile(records, tracker, p)

		ev := issueUpdated()
		ev.Resource = model.ResourceComment
		ev.Action = model.ActionCreated
		ev.Comment = &model.Comment{ID: "c9", IssueKey: "PRJ-7", Body: "hi"}

		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the issue cannot be fetched", func() {
		ev := issueUpdated()
		ev.IssueKey = "PRJ-404"

		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects an unconfigured issue type", func() {
		tracker.putIssue("PRJ-8", "PRJ", "Bug", "Open", map[string]any{"cf_sync": true})
		ev := issueUpdated()
		ev.IssueKey = "PRJ-8"

		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when the entity direction excludes issue-to-record", func() {
		mappings := testMappings()
		mappings[0].Direction = model.SyncRecordToIssue
		p := testProfile()
		p.Mappings = mappings
		engine = newEngineWithProfile(records, tracker, p)

		ok, err := engine.AcceptWebhook(ctx, issueUpdated())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects deletions while deletion sync is disabled", func() {
		ev := model.WebhookEvent{
			Resource: model.ResourceIssue, Action: model.ActionDeleted,
			IssueKey: "PRJ-7", IssueType: "Task", ProjectKey: "PRJ",
		}

		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("accepts a deletion using the inline type and project", func() {
		mappings := testMappings()
		mappings[0].DeletionDirection = model.SyncBothWays
		p := testProfile()
		p.Mappings = mappings
		engine = newEngineWithProfile(records, tracker, p)

		ev := model.WebhookEvent{
			Resource: model.ResourceIssue, Action: model.ActionDeleted,
			IssueKey: "PRJ-9", IssueType: "Task", ProjectKey: "PRJ",
		}

		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects when the issue's project is not linked locally", func() {
		tracker.putIssue("OTH-1", "OTH", "Task", "Open", map[string]any{"cf_sync": true})
		ev := issueUpdated()
		ev.IssueKey = "OTH-1"

		ok, err := engine.AcceptWebhook(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects when sync back is not enabled on the issue", func() {
		tracker.issues["PRJ-7"].Fields["cf_sync"] = false

		ok, err := engine.AcceptWebhook(ctx, issueUpdated())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ProcessWebhook", func() {
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

	Describe("issue events", func() {
		It("mirrors a created issue into the record store and stamps the cross-reference", func() {
			tracker.putIssue("PRJ-7", "PRJ", "Task", "In Progress", map[string]any{
				"cf_sync": true,
				"summary": "Replace the lock",
			})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionCreated, IssueKey: "PRJ-7",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())

			rec := records.get("Task", "r1")
			Expect(rec).NotTo(BeNil())
			Expect(rec.Fields["tracker_key"]).To(Equal("PRJ-7"))
			Expect(rec.Fields["tracker_url"]).To(Equal("https://tracker.local/browse/PRJ-7"))
			Expect(rec.Fields["sync_enabled"]).To(Equal(true))
			Expect(rec.Fields["title"]).To(Equal("Replace the lock"))
			// Many-to-one status collapse resolves to the first code in order.
			Expect(rec.Fields["status"]).To(Equal("active"))

			issue := tracker.issues["PRJ-7"]
			Expect(issue.Fields["cf_type"]).To(Equal("Task"))
			Expect(issue.Fields["cf_id"]).To(Equal("r1"))
			Expect(issue.Fields["cf_url"]).To(Equal("https://records.local/Task/r1"))
		})

		It("applies only the changelog-listed fields on update", func() {
			tracker.putIssue("PRJ-7", "PRJ", "Task", "Open", map[string]any{
				"cf_type": "Task", "summary": "New summary", "description": "untouched remotely",
			})
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionUpdated, IssueKey: "PRJ-7",
				Changelog: []model.ChangelogItem{{FieldID: "summary", Field: "Summary", To: "New summary"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())

			rec := records.get("Task", "t1")
			Expect(rec.Fields["title"]).To(Equal("New summary"))
			Expect(rec.Fields["description"]).To(Equal("The gate sticks"))
		})

		It("maps a status change back to the record's status code", func() {
			tracker.putIssue("PRJ-7", "PRJ", "Task", "Done", map[string]any{"cf_type": "Task"})
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionUpdated, IssueKey: "PRJ-7",
				Changelog: []model.ChangelogItem{{Field: "status", From: "Open", To: "Done"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())
			Expect(records.get("Task", "t1").Fields["status"]).To(Equal("done"))
		})

		It("soft-skips a status without a reverse mapping", func() {
			tracker.putIssue("PRJ-7", "PRJ", "Task", "Blocked", map[string]any{"cf_type": "Task"})
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionUpdated, IssueKey: "PRJ-7",
				Changelog: []model.ChangelogItem{{Field: "status", From: "Open", To: "Blocked"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeFalse())
			Expect(result.Skipped).To(HaveLen(1))
			Expect(records.get("Task", "t1").Fields["status"]).To(Equal("draft"))
		})

		It("resolves a parent change through the parent issue's cross-reference", func() {
			tracker.putIssue("PRJ-10", "PRJ", "Task", "Open", map[string]any{
				"cf_type": "Task", "cf_id": "t9",
			})
			issue := tracker.putIssue("PRJ-7", "PRJ", "Task", "Open", map[string]any{"cf_type": "Task"})
			issue.ParentKey = "PRJ-10"
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionUpdated, IssueKey: "PRJ-7",
				Changelog: []model.ChangelogItem{{Field: "parent", To: "PRJ-10"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())
			Expect(records.get("Task", "t1").Fields["parent"]).To(Equal(model.Reference{Type: "Task", ID: "t9"}))
		})

		It("clears a dropped parent with an empty link list", func() {
			tracker.putIssue("PRJ-7", "PRJ", "Task", "Open", map[string]any{"cf_type": "Task"})
			seedTask(records, "t1", map[string]any{
				"tracker_key": "PRJ-7",
				"parent":      model.Reference{Type: "Task", ID: "t9"},
			})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionUpdated, IssueKey: "PRJ-7",
				Changelog: []model.ChangelogItem{{Field: "parent", From: "PRJ-10"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())
			// A typed empty list, not nil: the store clears link rows only
			// when the value classifies as a link field.
			Expect(records.get("Task", "t1").Fields["parent"]).To(Equal([]model.Reference{}))
		})

		It("never re-creates a local record for an orphaned update", func() {
			tracker.putIssue("PRJ-7", "PRJ", "Task", "Open", map[string]any{"cf_type": "Task", "summary": "orphan"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionUpdated, IssueKey: "PRJ-7",
				Changelog: []model.ChangelogItem{{FieldID: "summary", To: "orphan"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeFalse())
			Expect(records.records["Task"]).To(BeEmpty())
		})

		It("deletes the local counterpart of a deleted issue", func() {
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceIssue, Action: model.ActionDeleted,
				IssueKey: "PRJ-7", IssueType: "Task", ProjectKey: "PRJ",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())
			Expect(records.deleted).To(ConsistOf("Task/t1"))
		})
	})

	Describe("sub-resource events", func() {
		BeforeEach(func() {
			tracker.putIssue("PRJ-7", "PRJ", "Task", "Open", map[string]any{"cf_type": "Task"})
			seedTask(records, "t1", map[string]any{"tracker_key": "PRJ-7"})
		})

		It("mirrors a created comment under the local parent", func() {
			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceComment, Action: model.ActionCreated, IssueKey: "PRJ-7",
				Comment: &model.Comment{ID: "c9", IssueKey: "PRJ-7", Body: "from tracker", AuthorID: "acct-dev"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())

			rec := records.get("Comment", "r1")
			Expect(rec).NotTo(BeNil())
			Expect(rec.Fields["tracker_key"]).To(Equal("PRJ-7/c9"))
			Expect(rec.Fields["task"]).To(Equal(model.Reference{Type: "Task", ID: "t1"}))
			Expect(rec.Fields["project"]).To(Equal(model.Reference{Type: "Project", ID: "p1"}))
			Expect(rec.Fields["text"]).To(Equal("from tracker"))
		})

		It("does not duplicate an already-mirrored comment", func() {
			records.put("Comment", "c1", map[string]any{"tracker_key": "PRJ-7/c9", "text": "already here"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceComment, Action: model.ActionCreated, IssueKey: "PRJ-7",
				Comment: &model.Comment{ID: "c9", IssueKey: "PRJ-7", Body: "from tracker"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeFalse())
			Expect(records.records["Comment"]).To(HaveLen(1))
		})

		It("updates the local text of an edited comment", func() {
			records.put("Comment", "c1", map[string]any{
				"tracker_key": "PRJ-7/c9",
				"text":        "old",
				"task":        []model.Reference{{Type: "Task", ID: "t1"}},
			})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceComment, Action: model.ActionUpdated, IssueKey: "PRJ-7",
				Comment: &model.Comment{ID: "c9", IssueKey: "PRJ-7", Body: "revised remotely"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())
			Expect(records.get("Comment", "c1").Fields["text"]).To(Equal("revised remotely"))
		})

		It("deletes the local counterpart of a deleted comment", func() {
			records.put("Comment", "c1", map[string]any{"tracker_key": "PRJ-7/c9"})

			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceComment, Action: model.ActionDeleted, IssueKey: "PRJ-7",
				Comment: &model.Comment{ID: "c9", IssueKey: "PRJ-7"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())
			Expect(records.deleted).To(ConsistOf("Comment/c1"))
		})

		It("converts a created worklog's duration and start date", func() {
			result, err := engine.ProcessWebhook(ctx, model.WebhookEvent{
				Resource: model.ResourceWorklog, Action: model.ActionCreated, IssueKey: "PRJ-7",
				Worklog: &model.Worklog{
					ID: "w9", IssueKey: "PRJ-7", Comment: "site visit",
					Started: "2026-08-20T09:00:00.000+0000", Seconds: 5400,
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Synced).To(BeTrue())

			rec := records.get("Worklog", "r1")
			Expect(rec).NotTo(BeNil())
			Expect(rec.Fields["tracker_key"]).To(Equal("PRJ-7/w9"))
			Expect(rec.Fields["note"]).To(Equal("site visit"))
			Expect(rec.Fields["started"]).To(Equal("2026-08-20 09:00"))
			Expect(rec.Fields["minutes"]).To(Equal(int64(90)))
		})
	})
})

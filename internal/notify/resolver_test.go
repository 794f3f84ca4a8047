package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neshama/shivanotify/internal/models"
)

func TestThankYouReportListsOnlyStoredRecords(t *testing.T) {
	h := newHarness(t)
	page := h.page("2026-03-01", "2026-03-05")
	ctx := context.Background()
	tick := NewTick(h.at("2026-03-10", 12, 0), h.loc)

	// Another tick stored avi's thank-you after this one read the log.
	created, err := h.events.Insert(ctx, &models.NotificationRecord{
		PageID:           page.ID,
		SubjectID:        page.ID,
		Kind:             string(KindThankYou),
		RecipientAddress: "avi@example.com",
	})
	require.NoError(t, err)
	require.True(t, created)

	batch := ThankYouBatch{PageID: page.ID, Records: []models.NotificationRecord{
		{PageID: page.ID, SubjectID: page.ID, Kind: string(KindThankYou), RecipientAddress: "avi@example.com"},
		{PageID: page.ID, SubjectID: page.ID, Kind: string(KindThankYou), RecipientAddress: "noa@example.com"},
	}}

	var report ResolveReport
	require.NoError(t, h.scheduler.resolver.insertThankYou(ctx, tick, &report, batch))
	require.Equal(t, 1, report.Archived)
	require.Equal(t, 1, report.Created)
	require.Equal(t, 1, report.Deduplicated)
	require.Len(t, report.Records, 1)
	require.Equal(t, "noa@example.com", report.Records[0].RecipientAddress)

	stored, err := h.events.Get(ctx, report.Records[0].ID)
	require.NoError(t, err)
	require.Equal(t, "noa@example.com", stored.RecipientAddress)
}

package reports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportKeySortsChronologically(t *testing.T) {
	early := ReportKey(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	late := ReportKey(time.Date(2025, 1, 2, 3, 4, 5, 1, time.UTC))

	assert.Equal(t, "reports/20250102T030405.000000000Z.md", early)
	assert.Less(t, early, late)
}

func TestNewestFirst(t *testing.T) {
	entries := []Entry{{Key: "reports/a.md"}, {Key: "reports/c.md"}, {Key: "reports/b.md"}}

	got := newestFirst(entries, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "reports/c.md", got[0].Key)
	assert.Equal(t, "reports/b.md", got[1].Key)

	assert.NotNil(t, newestFirst(nil, 5))
}

func TestNewArchiveRequiresBucket(t *testing.T) {
	_, err := NewArchive(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestSaveRejectsEmptyText(t *testing.T) {
	a, err := NewArchive(Config{Endpoint: "localhost:9000", Bucket: "reports"})
	require.NoError(t, err)

	_, err = a.Save(context.Background(), "  \n")
	assert.ErrorIs(t, err, ErrEmptyReport)
}

func TestPresignRejectsForeignKeys(t *testing.T) {
	a, err := NewArchive(Config{Endpoint: "localhost:9000", Bucket: "reports"})
	require.NoError(t, err)

	_, err = a.Presign(context.Background(), "secrets/key.txt", time.Minute)
	assert.Error(t, err)
	_, err = a.Presign(context.Background(), "reports/../secrets.txt", time.Minute)
	assert.Error(t, err)
}

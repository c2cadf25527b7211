package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arboretum-dashboard/agosync/internal/arcgis"
	"github.com/arboretum-dashboard/agosync/internal/config"
	"github.com/arboretum-dashboard/agosync/internal/summary"
)

// fakeAGO is an in-process stand-in for the ArcGIS Online Sharing API.
type fakeAGO struct {
	mu sync.Mutex

	denyToken  bool
	failUpdate map[string]bool // item IDs whose update call errors

	tokenCalls   int
	itemCalls    int
	updateCalls  int
	publishCalls int
	timeCalls    int

	uploads map[string][][]byte // item ID -> uploaded bodies, in order

	server *httptest.Server
}

func newFakeAGO(t *testing.T) *fakeAGO {
	t.Helper()
	f := &fakeAGO{
		failUpdate: map[string]bool{},
		uploads:    map[string][][]byte{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAGO) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/sharing/rest/generateToken":
		f.tokenCalls++
		if f.denyToken {
			fmt.Fprint(w, `{"error":{"code":400,"message":"Unable to generate token."}}`)
			return
		}
		fmt.Fprint(w, `{"token":"tok","expires":1756100000000}`)

	case strings.HasPrefix(path, "/sharing/rest/content/items/"):
		f.itemCalls++
		id := strings.TrimPrefix(path, "/sharing/rest/content/items/")
		fmt.Fprintf(w, `{"id":"%s","owner":"publisher","title":"layer-%s","type":"CSV"}`, id, id)

	case strings.HasSuffix(path, "/update"):
		f.updateCalls++
		id := itemIDFromUserPath(path, "/update")
		if f.failUpdate[id] {
			fmt.Fprint(w, `{"error":{"code":500,"message":"Update failed."}}`)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		f.uploads[id] = append(f.uploads[id], body)
		fmt.Fprint(w, `{"success":true}`)

	case strings.HasSuffix(path, "/publish"):
		f.publishCalls++
		id := itemIDFromUserPath(path, "/publish")
		fmt.Fprintf(w, `{"services":[{"serviceItemId":"svc-%s","serviceurl":"%s/rest/services/layer-%s/FeatureServer"}]}`,
			id, f.server.URL, id)

	case strings.HasSuffix(path, "/updateDefinition"):
		f.timeCalls++
		fmt.Fprint(w, `{"success":true}`)

	default:
		http.NotFound(w, r)
	}
}

// itemIDFromUserPath extracts the item ID from a user-scoped content path
// like /sharing/rest/content/users/publisher/items/<id>/update.
func itemIDFromUserPath(path, suffix string) string {
	trimmed := strings.TrimSuffix(path, suffix)
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

func testConfig(t *testing.T, orgURL string) *config.Config {
	t.Helper()
	return &config.Config{
		OrgURL:            orgURL,
		Username:          "publisher",
		Password:          "s3cret",
		DendroAvgItemID:   "item-da",
		DendroDailyItemID: "item-dd",
		TMSAvgItemID:      "item-ta",
		TMSDailyItemID:    "item-td",
		DataDir:           t.TempDir(),
	}
}

func writeUploadFiles(t *testing.T, cfg *config.Config) {
	t.Helper()
	files := map[string]string{
		summary.OutputDendroAvg:   "sensor_id,avg_growth\n101,200\n",
		summary.OutputDendroDaily: "sensor_id,date,avg_growth\n101,2024-05-01,150\n",
		summary.OutputTMSAvg:      "sensor_id,avg_t1\n201,11\n",
		summary.OutputTMSDaily:    "sensor_id,date,avg_t1\n201,2024-05-01,11\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, name), []byte(content), 0644))
	}
}

func newPublisher(t *testing.T, cfg *config.Config) *Publisher {
	t.Helper()
	client, err := arcgis.NewClient(cfg.OrgURL)
	require.NoError(t, err)
	return New(client, cfg, nil)
}

func TestRun_UpdatesAllTargets(t *testing.T) {
	fake := newFakeAGO(t)
	cfg := testConfig(t, fake.server.URL)
	writeUploadFiles(t, cfg)

	err := newPublisher(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, fake.tokenCalls)
	assert.Equal(t, 4, fake.itemCalls)
	assert.Equal(t, 4, fake.updateCalls)
	assert.Equal(t, 4, fake.publishCalls)
	// Only the two daily layers are time-enabled.
	assert.Equal(t, 2, fake.timeCalls)

	// The uploaded bytes are exactly the local file contents.
	want, err := os.ReadFile(filepath.Join(cfg.DataDir, summary.OutputTMSAvg))
	require.NoError(t, err)
	require.Len(t, fake.uploads["item-ta"], 1)
	assert.Equal(t, want, fake.uploads["item-ta"][0])
}

func TestRun_AuthFailurePreventsLayerCalls(t *testing.T) {
	fake := newFakeAGO(t)
	fake.denyToken = true
	cfg := testConfig(t, fake.server.URL)
	writeUploadFiles(t, cfg)

	err := newPublisher(t, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")

	assert.Equal(t, 1, fake.tokenCalls)
	assert.Zero(t, fake.itemCalls)
	assert.Zero(t, fake.updateCalls)
}

func TestRun_MissingFileFailsBeforeAnyCall(t *testing.T) {
	fake := newFakeAGO(t)
	cfg := testConfig(t, fake.server.URL)
	writeUploadFiles(t, cfg)
	require.NoError(t, os.Remove(filepath.Join(cfg.DataDir, summary.OutputDendroDaily)))

	err := newPublisher(t, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dendrometer-daily")

	assert.Zero(t, fake.tokenCalls)
	assert.Zero(t, fake.updateCalls)
}

func TestRun_EmptyFolderFailsBeforeAnyCall(t *testing.T) {
	fake := newFakeAGO(t)
	cfg := testConfig(t, fake.server.URL)
	// No upload files at all: the folder is empty.

	err := newPublisher(t, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	assert.Zero(t, fake.tokenCalls)
	assert.Zero(t, fake.itemCalls)
	assert.Zero(t, fake.updateCalls)
}

func TestRun_PerTargetErrorCapture(t *testing.T) {
	fake := newFakeAGO(t)
	fake.failUpdate["item-dd"] = true
	cfg := testConfig(t, fake.server.URL)
	writeUploadFiles(t, cfg)

	err := newPublisher(t, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dendrometer-daily")
	assert.NotContains(t, err.Error(), "tms-average")

	// All four targets were attempted despite the failure.
	assert.Equal(t, 4, fake.updateCalls)
	assert.Equal(t, 3, fake.publishCalls)
	require.Len(t, fake.uploads["item-td"], 1)
}

func TestRun_Idempotent(t *testing.T) {
	fake := newFakeAGO(t)
	cfg := testConfig(t, fake.server.URL)
	writeUploadFiles(t, cfg)

	publisher := newPublisher(t, cfg)
	require.NoError(t, publisher.Run(context.Background()))
	require.NoError(t, publisher.Run(context.Background()))

	// Unchanged local folders upload identical bytes both times.
	for _, id := range []string{"item-da", "item-dd", "item-ta", "item-td"} {
		require.Len(t, fake.uploads[id], 2, "item %s", id)
		assert.Equal(t, fake.uploads[id][0], fake.uploads[id][1])
	}
}

func TestTargets_CoverAllFourLayers(t *testing.T) {
	cfg := testConfig(t, "https://example.maps.arcgis.com")
	targets := Targets(cfg)

	require.Len(t, targets, 4)
	assert.Equal(t, "item-da", targets[0].ItemID)
	assert.False(t, targets[0].TimeEnabled)
	assert.True(t, targets[1].TimeEnabled)
	assert.True(t, targets[3].TimeEnabled)
}

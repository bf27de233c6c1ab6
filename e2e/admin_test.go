package e2e

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/queue"
)

func TestAdmin_DeadTasks(t *testing.T) {
	ta := setupApp(t)
	ta.dead.dead[queue.LaneEmbedding] = []model.DeadTask{
		{ID: "t1", Type: queue.TypeEmbed, Queue: queue.LaneEmbedding, BatchID: "b1", Retried: 3, MaxRetry: 3, LastErr: "qdrant down"},
		{ID: "t2", Type: queue.TypeEmbed, Queue: queue.LaneEmbedding, BatchID: "b2", Retried: 3, MaxRetry: 3, LastErr: "qdrant down"},
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/admin/queues/embedding/dead?limit=1", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	var body struct {
		Tasks []model.DeadTask `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].BatchID != "b1" {
		t.Errorf("unexpected tasks: %+v", body.Tasks)
	}
}

func TestAdmin_LaneStats(t *testing.T) {
	ta := setupApp(t)
	ta.dead.dead[queue.LaneChunking] = []model.DeadTask{{ID: "t1"}}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/admin/queues/chunking", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["queue"] != queue.LaneChunking || body["archived"] != float64(1) {
		t.Errorf("unexpected stats: %v", body)
	}
}

func TestAdmin_UnknownLane(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/admin/queues/nope/dead", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestAdmin_BadLimit(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/admin/queues/embedding/dead?limit=0", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestAdmin_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/admin/queues/embedding", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

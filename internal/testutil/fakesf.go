package testutil

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeAPIVersion is the API version served by FakeSalesforce
const FakeAPIVersion = "52.0"

// FakeField is a field served by the describe endpoint
type FakeField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FakeResult is one result set of a batch
type FakeResult struct {
	ID   string
	Body string

	// Breaks is how many times the stream is cut short before it is
	// served in full.
	Breaks int
}

// FakeBatch is a batch reported once the job is done
type FakeBatch struct {
	ID      string
	State   string
	Message string
	Results []FakeResult
}

// FakeJob records what a client submitted
type FakeJob struct {
	ID        string
	Object    string
	Operation string
	ChunkSize string
	Query     string
	State     string
	Polls     int
}

// FakeSalesforce emulates the describe, query and bulk endpoints of the
// remote service.
type FakeSalesforce struct {
	Server *httptest.Server
	Token  string

	mu sync.Mutex

	// Objects maps object names to their describe fields
	Objects map[string][]FakeField
	// Global is the global describe listing
	Global []map[string]any
	// Batches are reported for every job once PollsUntilDone polls passed
	Batches []FakeBatch
	// PollsUntilDone is the number of polls answered with running batches
	PollsUntilDone int
	// ExpireTokens are tokens answered with an invalid-session error
	ExpireTokens map[string]bool
	// RejectGetQueries answers GET query probes with the given status
	RejectGetQueries int

	Jobs     []*FakeJob
	Queries  []string
	Requests []string
	breaks   map[string]int
}

// NewFakeSalesforce starts a fake service. It is closed with the test.
func NewFakeSalesforce(t *testing.T) *FakeSalesforce {
	t.Helper()

	f := &FakeSalesforce{
		Token:        "SESSION",
		Objects:      make(map[string][]FakeField),
		ExpireTokens: make(map[string]bool),
		breaks:       make(map[string]int),
	}

	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)

	return f
}

// URL returns the instance URL of the fake
func (f *FakeSalesforce) URL() string {
	return f.Server.URL
}

// Job returns the job submitted at index i
func (f *FakeSalesforce) Job(i int) *FakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i >= len(f.Jobs) {
		return nil
	}

	return f.Jobs[i]
}

// RequestCount returns how many requests matched prefix ("GET /services/...")
func (f *FakeSalesforce) RequestCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, r := range f.Requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}

	return n
}

func (f *FakeSalesforce) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, r.Method+" "+r.URL.Path)

	restPrefix := "/services/data/v" + FakeAPIVersion + "/"
	bulkPrefix := "/services/async/" + FakeAPIVersion + "/"

	switch {
	case strings.HasPrefix(r.URL.Path, restPrefix):
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !f.authorized(token) {
			writeJSON(w, http.StatusUnauthorized, []map[string]string{{
				"errorCode": "INVALID_SESSION_ID", "message": "Session expired or invalid",
			}})

			return
		}

		f.serveREST(w, r, strings.Split(strings.TrimPrefix(r.URL.Path, restPrefix), "/"))
	case strings.HasPrefix(r.URL.Path, bulkPrefix):
		if !f.authorized(r.Header.Get("X-SFDC-Session")) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"exceptionCode": "InvalidSessionId", "exceptionMessage": "Invalid session id",
			})

			return
		}

		f.serveBulk(w, r, strings.Split(strings.TrimPrefix(r.URL.Path, bulkPrefix), "/"))
	case r.URL.Path == "/services/oauth2/token" && r.Method == http.MethodPost:
		f.serveToken(w, r)
	default:
		http.NotFound(w, r)
	}
}

// serveToken answers OAuth logins with the current Token
func (f *FakeSalesforce) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_secret") == "wrong" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_client", "error_description": "invalid client credentials",
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": f.Token,
		"instance_url": f.Server.URL,
		"token_type":   "Bearer",
	})
}

func (f *FakeSalesforce) authorized(token string) bool {
	if f.ExpireTokens[token] {
		return false
	}

	return token != ""
}

func (f *FakeSalesforce) serveREST(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "sobjects":
		writeJSON(w, http.StatusOK, map[string]any{"sobjects": f.Global})
	case len(parts) == 3 && parts[0] == "sobjects" && parts[2] == "describe":
		fields, ok := f.Objects[parts[1]]
		if !ok {
			writeJSON(w, http.StatusNotFound, []map[string]string{{
				"errorCode": "NOT_FOUND", "message": "The requested resource does not exist",
			}})

			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"name": parts[1], "fields": fields})
	case len(parts) == 1 && (parts[0] == "query" || parts[0] == "queryAll"):
		q := r.URL.Query().Get("q")

		if r.Method == http.MethodGet && f.RejectGetQueries != 0 {
			w.WriteHeader(f.RejectGetQueries)
			return
		}

		if r.Method == http.MethodPost {
			var body struct {
				Q string `json:"q"`
			}

			_ = json.NewDecoder(r.Body).Decode(&body)
			q = body.Q
		}

		f.Queries = append(f.Queries, q)

		if strings.Contains(q, "Bogus") {
			writeJSON(w, http.StatusBadRequest, []map[string]string{{
				"errorCode": "INVALID_FIELD", "message": "No such column 'Bogus' on entity",
			}})

			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"totalSize": 0, "done": true, "records": []any{}})
	default:
		http.NotFound(w, r)
	}
}

type fakeBatchInfo struct {
	XMLName      xml.Name `xml:"batchInfo"`
	ID           string   `xml:"id"`
	JobID        string   `xml:"jobId"`
	State        string   `xml:"state"`
	StateMessage string   `xml:"stateMessage,omitempty"`
	Records      int      `xml:"numberRecordsProcessed"`
}

type fakeBatchInfoList struct {
	XMLName xml.Name        `xml:"batchInfoList"`
	Xmlns   string          `xml:"xmlns,attr"`
	Batches []fakeBatchInfo `xml:"batchInfo"`
}

func (f *FakeSalesforce) serveBulk(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "job" && r.Method == http.MethodPost:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		job := &FakeJob{
			ID:        fmt.Sprintf("750%03d", len(f.Jobs)+1),
			Object:    body["object"],
			Operation: body["operation"],
			ChunkSize: strings.TrimPrefix(r.Header.Get("Sforce-Enable-PKChunking"), "chunkSize="),
			State:     "Open",
		}
		f.Jobs = append(f.Jobs, job)

		writeJSON(w, http.StatusCreated, map[string]string{"id": job.ID, "object": job.Object, "state": job.State})
	case len(parts) == 2 && parts[0] == "job" && r.Method == http.MethodPost:
		job := f.findJob(parts[1])
		if job == nil {
			http.NotFound(w, r)
			return
		}

		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		job.State = body["state"]

		writeJSON(w, http.StatusOK, map[string]string{"id": job.ID, "state": job.State})
	case len(parts) == 3 && parts[2] == "batch" && r.Method == http.MethodPost:
		job := f.findJob(parts[1])
		if job == nil {
			http.NotFound(w, r)
			return
		}

		b, _ := io.ReadAll(r.Body)
		job.Query = string(b)

		writeXML(w, http.StatusCreated, fakeBatchInfo{ID: "751000", JobID: job.ID, State: "Queued"})
	case len(parts) == 3 && parts[2] == "batch" && r.Method == http.MethodGet:
		job := f.findJob(parts[1])
		if job == nil {
			http.NotFound(w, r)
			return
		}

		job.Polls++

		list := fakeBatchInfoList{Xmlns: "http://www.force.com/2009/06/asyncapi/dataload"}

		for _, b := range f.Batches {
			info := fakeBatchInfo{ID: b.ID, JobID: job.ID, State: b.State, StateMessage: b.Message}
			if job.Polls <= f.PollsUntilDone && b.State != "NotProcessed" {
				info.State = "InProgress"
				info.StateMessage = ""
			}

			list.Batches = append(list.Batches, info)
		}

		writeXML(w, http.StatusOK, list)
	case len(parts) == 5 && parts[4] == "result":
		batch := f.findBatch(parts[3])
		if batch == nil {
			http.NotFound(w, r)
			return
		}

		ids := make([]string, 0, len(batch.Results))
		for _, res := range batch.Results {
			ids = append(ids, res.ID)
		}

		writeJSON(w, http.StatusOK, ids)
	case len(parts) == 6 && parts[4] == "result":
		batch := f.findBatch(parts[3])
		if batch == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"exceptionCode": "InvalidBatch", "exceptionMessage": "Unable to find batch"})
			return
		}

		for _, res := range batch.Results {
			if res.ID != parts[5] {
				continue
			}

			key := batch.ID + "/" + res.ID

			w.Header().Set("Content-Type", "text/csv")

			if f.breaks[key] < res.Breaks {
				f.breaks[key]++

				// Declare the full length but send only half, so the client
				// sees the connection drop mid-stream.
				w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
				w.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(w, res.Body[:len(res.Body)/2])

				return
			}

			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, res.Body)

			return
		}

		w.WriteHeader(http.StatusNotFound)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeSalesforce) findJob(id string) *FakeJob {
	for _, j := range f.Jobs {
		if j.ID == id {
			return j
		}
	}

	return nil
}

func (f *FakeSalesforce) findBatch(id string) *FakeBatch {
	for i := range f.Batches {
		if f.Batches[i].ID == id {
			return &f.Batches[i]
		}
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}

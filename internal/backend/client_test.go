package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestListMessagesSendsRequestAndDecodes(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotRequestID, gotPath string

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"messages": [{"id": "m1", "threadId": "t1", "subject": "Hi", "labelIds": ["INBOX", "UNREAD"]}],
			"classifications": {"m1": {"tags": ["urgent"], "priorityScore": 90, "priorityLabel": "urgent", "sentiment": "negative", "confidence": 0.9}},
			"nextPageToken": "tok2",
			"account_email": "owner@example.com",
			"settings": {"auto_tag_enabled": true, "urgent_conf_threshold": 0.8}
		}`))
	})

	c := NewClient(srv.URL+"/", StaticToken("secret"))
	resp, err := c.ListMessages(context.Background(), ListRequest{
		Email:      "owner@example.com",
		MaxResults: 20,
		LabelIDs:   []string{"INBOX"},
		PageToken:  "tok1",
	})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	if gotPath != pathList {
		t.Errorf("path = %q, want %q", gotPath, pathList)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Error("expected X-Request-Id header")
	}
	wantBody := map[string]any{
		"email":       "owner@example.com",
		"max_results": float64(20),
		"label_ids":   []any{"INBOX"},
		"page_token":  "tok1",
	}
	if diff := cmp.Diff(wantBody, gotBody); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}

	want := &ListResponse{
		Messages: []MessageSummary{{ID: "m1", ThreadID: "t1", Subject: "Hi", LabelIDs: []string{"INBOX", "UNREAD"}}},
		Classifications: map[string]Classification{
			"m1": {Tags: []string{"urgent"}, PriorityScore: 90, PriorityLabel: PriorityUrgent, Sentiment: SentimentNegative, Confidence: 0.9},
		},
		NextPageToken: "tok2",
		AccountEmail:  "owner@example.com",
		Settings:      &Settings{AutoTagEnabled: true, UrgentConfThreshold: 0.8},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestNoTokenSourceOmitsAuthorization(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("unexpected Authorization %q", auth)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	c := NewClient(srv.URL, StaticToken(""))
	if err := c.ModifyLabels(context.Background(), ModifyRequest{Email: "a@b.c", MessageIDs: []string{"m1"}}); err != nil {
		t.Fatalf("ModifyLabels: %v", err)
	}
}

func TestModifyLabelsSendsEmptyArrays(t *testing.T) {
	var body map[string]json.RawMessage
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusOK)
	})

	c := NewClient(srv.URL, nil)
	err := c.ModifyLabels(context.Background(), ModifyRequest{
		Email:       "a@b.c",
		MessageIDs:  []string{"m1"},
		AddLabelIDs: []string{"STARRED"},
	})
	if err != nil {
		t.Fatalf("ModifyLabels: %v", err)
	}
	if string(body["remove_label_ids"]) != "[]" {
		t.Errorf("remove_label_ids = %s, want []", body["remove_label_ids"])
	}
}

func TestErrorBodyParsing(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		body       string
		wantDetail string
		wantRetry  time.Duration
	}{
		{
			name:       "details field wins",
			status:     http.StatusNotFound,
			body:       `{"error": "not_found", "details": "No Google account connected"}`,
			wantDetail: "No Google account connected",
		},
		{
			name:       "error field",
			status:     http.StatusUnauthorized,
			body:       `{"error": "Invalid Credentials"}`,
			wantDetail: "Invalid Credentials",
		},
		{
			name:       "nested error object",
			status:     http.StatusForbidden,
			body:       `{"error": {"code": 403, "message": "insufficientPermissions"}}`,
			wantDetail: "insufficientPermissions",
		},
		{
			name:       "raw text",
			status:     http.StatusBadGateway,
			body:       "upstream exploded",
			wantDetail: "upstream exploded",
		},
		{
			name:       "empty body",
			status:     http.StatusInternalServerError,
			wantDetail: "Internal Server Error",
		},
		{
			name:       "retry_after in body",
			status:     http.StatusTooManyRequests,
			body:       `{"error": "rate limited", "retry_after": 30}`,
			wantDetail: "rate limited",
			wantRetry:  30 * time.Second,
		},
		{
			name:       "retry-after header",
			status:     http.StatusTooManyRequests,
			header:     map[string]string{"Retry-After": "12"},
			body:       `{"error": "slow down"}`,
			wantDetail: "slow down",
			wantRetry:  12 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			c := NewClient(srv.URL, nil)
			_, err := c.ListMessages(context.Background(), ListRequest{Email: "a@b.c"})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", apiErr.Detail, tt.wantDetail)
			}
			if apiErr.RetryAfter != tt.wantRetry {
				t.Errorf("retry after = %v, want %v", apiErr.RetryAfter, tt.wantRetry)
			}
		})
	}
}

func TestClassifyNormalizesResponse(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ClassifyRequest
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &req); err != nil {
			t.Errorf("decode classify request: %v", err)
		}
		if req.MessageID != "m1" || !req.Force || req.UrgentConfThreshold != 0.7 {
			t.Errorf("unexpected classify request %+v", req)
		}
		_, _ = w.Write([]byte(`{"tags": ["Urgent", "made_up", "urgent"], "priorityScore": 140, "priorityLabel": "URGENT", "sentiment": "angry", "confidence": 1.5}`))
	})

	c := NewClient(srv.URL, nil, WithClassifyRate(100))
	got, err := c.Classify(context.Background(), ClassifyRequest{
		Email:               "a@b.c",
		MessageID:           "m1",
		UrgentConfThreshold: 0.7,
		Force:               true,
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := &Classification{
		Tags:          []string{"urgent"},
		PriorityScore: 100,
		PriorityLabel: PriorityUrgent,
		Sentiment:     SentimentNeutral,
		Confidence:    1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("classification mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyRateLimiterHonorsContext(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	c := NewClient(srv.URL, nil, WithClassifyRate(0.01))
	if _, err := c.Classify(context.Background(), ClassifyRequest{MessageID: "first"}); err != nil {
		t.Fatalf("first classify: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Classify(ctx, ClassifyRequest{MessageID: "second"}); err == nil {
		t.Fatal("expected rate limiter wait to fail once the context expires")
	}
}

func TestSaveSettingsEchoes(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		if body["email"] != "a@b.c" || body["auto_tag_enabled"] != false {
			t.Errorf("unexpected settings body %v", body)
		}
		_, _ = w.Write(data)
	})

	c := NewClient(srv.URL, nil)
	got, err := c.SaveSettings(context.Background(), "a@b.c", Settings{AutoTagEnabled: false, UrgentConfThreshold: 0.6})
	if err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if got.AutoTagEnabled || got.UrgentConfThreshold != 0.6 {
		t.Fatalf("unexpected echo %+v", got)
	}
}

func TestSaveSettingsKeepsSentValues(t *testing.T) {
	sent := Settings{AutoTagEnabled: true, UrgentConfThreshold: 0.8}
	tests := []struct {
		name   string
		status int
		body   string
		want   Settings
	}{
		{name: "empty body", status: http.StatusOK, want: sent},
		{name: "no content", status: http.StatusNoContent, want: sent},
		{name: "empty object", status: http.StatusOK, body: `{}`, want: sent},
		{name: "partial", status: http.StatusOK, body: `{"urgent_conf_threshold":0.5}`, want: Settings{AutoTagEnabled: true, UrgentConfThreshold: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			got, err := NewClient(srv.URL, nil).SaveSettings(context.Background(), "a@b.c", sent)
			if err != nil {
				t.Fatalf("SaveSettings: %v", err)
			}
			if *got != tt.want {
				t.Fatalf("settings = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseRetryAfterHeaderDate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	header := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := parseRetryAfterHeader(header, now); got != 90*time.Second {
		t.Fatalf("got %v, want 90s", got)
	}
	if got := parseRetryAfterHeader("-3", now); got != 0 {
		t.Fatalf("negative seconds should be ignored, got %v", got)
	}
}

func TestMockAPIPagesAndLabels(t *testing.T) {
	m := NewMockAPI()
	m.SetPage("", &ListResponse{Messages: []MessageSummary{{ID: "m1", LabelIDs: []string{"INBOX"}}}, NextPageToken: "p2"})

	resp, err := m.ListMessages(context.Background(), ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	resp.Messages[0].LabelIDs[0] = "MUTATED"
	again, _ := m.ListMessages(context.Background(), ListRequest{})
	if again.Messages[0].LabelIDs[0] != "INBOX" {
		t.Fatal("mock must hand out copies")
	}

	if _, err := m.ListMessages(context.Background(), ListRequest{PageToken: "missing"}); err == nil {
		t.Fatal("expected error for unknown token")
	}

	m.Labels["m1"] = []string{"INBOX", "UNREAD"}
	_ = m.ModifyLabels(context.Background(), ModifyRequest{MessageIDs: []string{"m1"}, AddLabelIDs: []string{"STARRED"}, RemoveLabelIDs: []string{"UNREAD"}})
	if diff := cmp.Diff([]string{"INBOX", "STARRED"}, m.Labels["m1"]); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

package affinity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newRESTClient builds a client that only exercises the HTTP surface.
func newRESTClient(server *httptest.Server) *Client {
	return &Client{
		cfg:        Config{APIKey: "secret", Environment: Sandbox},
		baseURL:    server.URL,
		logger:     discardLogger(),
		httpClient: server.Client(),
	}
}

func TestRecommend(t *testing.T) {
	t.Run("successful call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %q, want POST", r.Method)
			}
			if r.URL.Path != "/api/v1/ml/recommend" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/api/v1/ml/recommend")
			}
			if got := r.Header.Get("Authorization"); got != "Bearer secret" {
				t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
			}
			if got := r.Header.Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q, want %q", got, "application/json")
			}
			if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "affinity-go/") {
				t.Errorf("User-Agent = %q, want affinity-go/ prefix", got)
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read request: %v", err)
			}
			for _, key := range []string{`"modelId":"model-1"`, `"userId":"u-1"`, `"limit":5`} {
				if !strings.Contains(string(body), key) {
					t.Errorf("body = %s, want it to carry %s", body, key)
				}
			}

			json.NewEncoder(w).Encode(RecommendationResponse{
				Status:  true,
				Message: "ok",
				Data: []Recommendation{
					{UserID: "u-1", ProductID: 42, Score: 0.91},
					{UserID: "u-1", ProductID: 7, Score: 0.83},
				},
			})
		}))
		defer server.Close()

		c := newRESTClient(server)
		resp, err := c.Recommend(context.Background(), RecommendationRequest{
			ModelID: "model-1",
			UserID:  "u-1",
			Limit:   5,
		})
		if err != nil {
			t.Fatalf("Recommend failed: %v", err)
		}

		if !resp.Status {
			t.Error("Status = false, want true")
		}
		if len(resp.Data) != 2 {
			t.Fatalf("len(Data) = %d, want 2", len(resp.Data))
		}
		if resp.Data[0].ProductID != 42 || resp.Data[0].Score != 0.91 {
			t.Errorf("Data[0] = %+v, want product 42 scored 0.91", resp.Data[0])
		}
	})

	t.Run("returns the envelope verbatim on status false", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(RecommendationResponse{
				Status:  false,
				Message: "model not trained",
			})
		}))
		defer server.Close()

		c := newRESTClient(server)
		resp, err := c.Recommend(context.Background(), RecommendationRequest{ModelID: "m", UserID: "u"})
		if err != nil {
			t.Fatalf("Recommend failed: %v", err)
		}
		if resp.Status {
			t.Error("Status = true, want false")
		}
		if resp.Message != "model not trained" {
			t.Errorf("Message = %q, want the server's message", resp.Message)
		}
		if len(resp.Data) != 0 {
			t.Errorf("len(Data) = %d, want 0", len(resp.Data))
		}
	})

	t.Run("propagates api errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"bad credential"}`))
		}))
		defer server.Close()

		c := newRESTClient(server)
		_, err := c.Recommend(context.Background(), RecommendationRequest{ModelID: "m", UserID: "u"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T: %v", err, err)
		}
		if apiErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
		}
		if !strings.Contains(string(apiErr.Body), "bad credential") {
			t.Errorf("Body = %q, want the server body", apiErr.Body)
		}
	})

	t.Run("propagates malformed bodies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		c := newRESTClient(server)
		_, err := c.Recommend(context.Background(), RecommendationRequest{ModelID: "m", UserID: "u"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "unmarshal") {
			t.Errorf("error = %v, want an unmarshal failure", err)
		}
	})

	t.Run("propagates transport errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		c := newRESTClient(server)
		server.Close()

		_, err := c.Recommend(context.Background(), RecommendationRequest{ModelID: "m", UserID: "u"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("propagates context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		c := newRESTClient(server)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Recommend(ctx, RecommendationRequest{ModelID: "m", UserID: "u"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error = %v, want context canceled", err)
		}
	})
}

func TestPredict(t *testing.T) {
	t.Run("successful call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/ml/predict" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/api/v1/ml/predict")
			}
			if got := r.Header.Get("Authorization"); got != "Bearer secret" {
				t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
			}

			var req PredictionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.ModelID != "churn-v2" {
				t.Errorf("ModelID = %q, want %q", req.ModelID, "churn-v2")
			}
			features, ok := req.Data.(map[string]interface{})
			if !ok || features["sessions"] != float64(12) {
				t.Errorf("Data = %v, want the caller's feature map", req.Data)
			}

			p := 0.87
			json.NewEncoder(w).Encode(PredictionResponse{
				Status:  true,
				Message: "ok",
				Data: []Prediction{
					{PredictedLabel: "churn", Probability: &p, Score: 0.87},
					{PredictedLabel: "stay", Score: 0.13},
				},
			})
		}))
		defer server.Close()

		c := newRESTClient(server)
		resp, err := c.Predict(context.Background(), PredictionRequest{
			ModelID: "churn-v2",
			Data:    map[string]interface{}{"sessions": 12},
			Limit:   2,
		})
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}

		if len(resp.Data) != 2 {
			t.Fatalf("len(Data) = %d, want 2", len(resp.Data))
		}
		if resp.Data[0].PredictedLabel != "churn" {
			t.Errorf("PredictedLabel = %q, want %q", resp.Data[0].PredictedLabel, "churn")
		}
		if resp.Data[0].Probability == nil || *resp.Data[0].Probability != 0.87 {
			t.Errorf("Probability = %v, want 0.87", resp.Data[0].Probability)
		}
		if resp.Data[1].Probability != nil {
			t.Errorf("Probability = %v, want nil when the model reports none", resp.Data[1].Probability)
		}
	})

	t.Run("propagates api errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`upstream model crashed`))
		}))
		defer server.Close()

		c := newRESTClient(server)
		_, err := c.Predict(context.Background(), PredictionRequest{ModelID: "m", Data: nil})
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T: %v", err, err)
		}
		if apiErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
		}
	})

	t.Run("propagates malformed bodies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": "yes"}`))
		}))
		defer server.Close()

		c := newRESTClient(server)
		_, err := c.Predict(context.Background(), PredictionRequest{ModelID: "m", Data: nil})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "unmarshal") {
			t.Errorf("error = %v, want an unmarshal failure", err)
		}
	})
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{
		StatusCode: 404,
		Message:    "Not Found",
		Body:       []byte(`{"error":"unknown model"}`),
	}
	want := "affinity api error 404: Not Found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

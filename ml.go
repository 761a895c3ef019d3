package affinity

import "context"

// RecommendationRequest asks a model for product recommendations for
// one user.
type RecommendationRequest struct {
	ModelID string `json:"modelId"`
	UserID  string `json:"userId"`
	Limit   int    `json:"limit"`
}

// Recommendation is a single scored product for a user.
type Recommendation struct {
	UserID    string  `json:"userId"`
	ProductID int64   `json:"productId"`
	Score     float64 `json:"score"`
}

// RecommendationResponse is the envelope returned by Recommend.
type RecommendationResponse struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    []Recommendation `json:"data"`
}

// PredictionRequest asks a model to score arbitrary feature data.
type PredictionRequest struct {
	ModelID string      `json:"modelId"`
	Data    interface{} `json:"data"`
	Limit   int         `json:"limit"`
}

// Prediction is a single scored label. Probability is nil for models
// that do not report one.
type Prediction struct {
	PredictedLabel string   `json:"predictedLabel"`
	Probability    *float64 `json:"probability,omitempty"`
	Score          float64  `json:"score"`
}

// PredictionResponse is the envelope returned by Predict.
type PredictionResponse struct {
	Status  bool         `json:"status"`
	Message string       `json:"message"`
	Data    []Prediction `json:"data"`
}

// Recommend retrieves recommendations from the given model. Failures
// are returned to the caller, not swallowed: the result of this call
// is something callers act on, unlike fire-and-forget collection.
func (c *Client) Recommend(ctx context.Context, req RecommendationRequest) (*RecommendationResponse, error) {
	var resp RecommendationResponse
	if err := c.post(ctx, recommendPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Predict scores the request data against the given model. Failures
// are returned to the caller, not swallowed.
func (c *Client) Predict(ctx context.Context, req PredictionRequest) (*PredictionResponse, error) {
	var resp PredictionResponse
	if err := c.post(ctx, predictPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Package aiclient talks to an optional external anomaly-scoring
// service. Scoring never affects TimeVote or TSDC consensus; its only
// effect is that rpcapi refuses a locally submitted transaction whose
// anomaly score is too high, before it reaches the pool.
package aiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/timecoin/node/internal/types"
)

// ScoreResponse is the scoring service's verdict on one transaction.
type ScoreResponse struct {
	AnomalyScore float64 `json:"anomaly_score"`
	FeeAdequacy  float64 `json:"fee_adequacy"`
	Message      string  `json:"message,omitempty"`
}

// Client calls the scoring service over HTTP. A disabled client always
// returns the neutral default score without making a request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
}

// NewClient builds a client against baseURL. If enabled is false every
// ScoreTransaction call short-circuits to the default score.
func NewClient(baseURL string, timeout time.Duration, enabled bool) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		enabled:    enabled,
	}
}

// TxFeatures is the feature vector sent to the scoring service,
// computed from a transaction's inputs/outputs/fee in satoshis.
type TxFeatures struct {
	NumInputs      int     `json:"num_inputs"`
	NumOutputs     int     `json:"num_outputs"`
	TotalOutput    uint64  `json:"total_output"`
	Fee            uint64  `json:"fee"`
	FeeRate        float64 `json:"fee_rate"`
	InputDiversity int     `json:"input_diversity"`
}

func extractFeatures(tx *types.Transaction, fee uint64) *TxFeatures {
	uniqueOutpoints := make(map[types.Hash256]bool)
	for _, in := range tx.Inputs {
		uniqueOutpoints[in.PreviousOutput.TxID] = true
	}
	totalOut := types.OutputSum(tx.Outputs)

	var feeRate float64
	if n := len(tx.Inputs) + len(tx.Outputs); n > 0 {
		feeRate = float64(fee) / float64(n)
	}

	return &TxFeatures{
		NumInputs:      len(tx.Inputs),
		NumOutputs:     len(tx.Outputs),
		TotalOutput:    totalOut,
		Fee:            fee,
		FeeRate:        feeRate,
		InputDiversity: len(uniqueOutpoints),
	}
}

// ScoreTransaction scores tx (given its fee in satoshis). When the
// service is disabled or unreachable it returns the neutral default
// (anomaly=0, fee_adequacy=0.5) rather than failing the caller.
func (c *Client) ScoreTransaction(tx *types.Transaction, fee uint64) (*ScoreResponse, error) {
	if !c.enabled {
		return &ScoreResponse{AnomalyScore: 0.0, FeeAdequacy: 0.5}, nil
	}

	features := extractFeatures(tx, fee)
	body, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("aiclient: marshal features: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/score/tx", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("aiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ScoreResponse{AnomalyScore: 0.0, FeeAdequacy: 0.5, Message: "ai service unavailable"}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("aiclient: service returned %d: %s", resp.StatusCode, string(b))
	}

	var score ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return nil, fmt.Errorf("aiclient: decode response: %w", err)
	}
	return &score, nil
}

package moderation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultModel = "omni-moderation-latest"

	moderationsPath = "/v1/moderations"
	maxErrorBody    = 512
)

type (
	// OpenAIClient talks to an OpenAI-compatible /v1/moderations endpoint.
	OpenAIClient struct {
		host    string
		apiKey  string
		model   string
		timeout time.Duration
		client  *http.Client
		log     *zap.Logger
	}

	moderationRequest struct {
		Model string            `json:"model"`
		Input []moderationInput `json:"input"`
	}

	moderationInput struct {
		Type     string   `json:"type"`
		ImageURL imageURL `json:"image_url"`
	}

	imageURL struct {
		URL string `json:"url"`
	}

	moderationResponse struct {
		Results []Verdict `json:"results"`
	}

	// requestPipeline splits one outbound call into encode, prepare and
	// decode steps.
	requestPipeline struct {
		parametersParser func(params any) (io.Reader, error)
		requestPrepare   func(ctx context.Context, body io.Reader) (*http.Request, error)
		postProcess      func(resp *http.Response) (Verdict, error)
	}
)

func NewOpenAIClient(host, apiKey, model string, timeout time.Duration, log *zap.Logger) *OpenAIClient {
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIClient{
		host:    strings.TrimRight(host, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    timeout,
			DisableCompression: true,
		}},
		log: log,
	}
}

// Configured reports whether an API key was provided.
func (o *OpenAIClient) Configured() bool {
	return o != nil && o.apiKey != ""
}

func (o *OpenAIClient) Classify(ctx context.Context, image []byte) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	pipe := requestPipeline{
		parametersParser: o.encodeRequest,
		requestPrepare:   o.prepareRequest,
		postProcess:      decodeResponse,
	}

	result := make(chan Verdict, 1)
	errs := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				o.log.Error("moderation request panicked", zap.Any("panic", recovered), zap.ByteString("stack", debug.Stack()))
				errs <- fmt.Errorf("recovered from: %v", recovered)
			}
		}()
		pipe.execute(ctx, o.client, image, result, errs)
	}()

	select {
	case verdict := <-result:
		return verdict, nil
	case err := <-errs:
		return Verdict{}, err
	case <-ctx.Done():
		return Verdict{}, fmt.Errorf("moderation timeout from %s: %w", o.host, ctx.Err())
	}
}

func (r requestPipeline) execute(ctx context.Context, client *http.Client, params any, result chan<- Verdict, errs chan<- error) {
	body, err := r.parametersParser(params)
	if err != nil {
		errs <- fmt.Errorf("error during prepare: %w", err)
		return
	}
	req, err := r.requestPrepare(ctx, body)
	if err != nil {
		errs <- fmt.Errorf("error during request prepare: %w", err)
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		errs <- fmt.Errorf("error during request sending: %w", err)
		return
	}
	defer resp.Body.Close()

	verdict, err := r.postProcess(resp)
	if err != nil {
		errs <- err
		return
	}
	result <- verdict
}

func (o *OpenAIClient) encodeRequest(params any) (io.Reader, error) {
	image, ok := params.([]byte)
	if !ok || len(image) == 0 {
		return nil, fmt.Errorf("no image to moderate")
	}
	payload := moderationRequest{
		Model: o.model,
		Input: []moderationInput{{
			Type:     "image_url",
			ImageURL: imageURL{URL: DataURL(image)},
		}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (o *OpenAIClient) prepareRequest(ctx context.Context, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+moderationsPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	return req, nil
}

func decodeResponse(resp *http.Response) (Verdict, error) {
	if resp.StatusCode == http.StatusTooManyRequests {
		return Verdict{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Verdict{}, fmt.Errorf("moderation endpoint answered %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Verdict{}, fmt.Errorf("can not decode moderation response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return Verdict{}, fmt.Errorf("moderation response without results")
	}
	return parsed.Results[0], nil
}

// DataURL embeds image as a base64 data URL with a sniffed content type.
func DataURL(image []byte) string {
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

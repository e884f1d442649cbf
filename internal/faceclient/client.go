package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Detection and comparison settings sent with every engine call.
const (
	DetectorBackend = "retinaface"
	ModelName       = "Facenet512"
	DistanceMetric  = "euclidean_l2"
)

// ProbeArg is the engine's name for the second (live) image of a verify call.
const ProbeArg = "img2_path"

// legacyProbeMessage is what engines without structured errors report when
// the live image could not be processed.
const legacyProbeMessage = "exception while processing img2_path"

// Analysis is the engine's result for a single detected face. IsReal is nil
// when the engine does not report an anti-spoofing verdict.
type Analysis struct {
	Age        float64        `json:"age"`
	FaceConf   float64        `json:"face_confidence"`
	IsReal     *bool          `json:"is_real,omitempty"`
	SpoofScore float64        `json:"antispoof_score"`
	Region     map[string]int `json:"region,omitempty"`
}

// Verification is a 1:1 comparison result.
type Verification struct {
	Verified  bool    `json:"verified"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Model     string  `json:"model"`
	Metric    string  `json:"distance_metric"`
}

// EngineError is a failure reported by the face engine.
type EngineError struct {
	Status  int
	Code    string
	Arg     string
	Message string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("face service error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("face service error %d: %s", e.Status, e.Message)
}

// ProbeFailure reports whether the engine attributed the failure to the live
// image of a verify call (no face found or spoof flagged on it).
func (e *EngineError) ProbeFailure() bool {
	if e.Arg == ProbeArg || e.Code == "probe_no_face" || e.Code == "probe_spoof" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(e.Message), legacyProbeMessage)
}

// IsProbeFailure reports whether err carries an engine probe failure.
func IsProbeFailure(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.ProbeFailure()
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Per-call deadlines come from the caller's context;
// the transport timeout is a backstop.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Analyze runs detection and anti-spoofing on one encoded image. Detection is
// enforced: an image without a face is an error, never a silent fallback.
func (c *Client) Analyze(ctx context.Context, image string) (*Analysis, error) {
	if c.Skip {
		live := true
		return &Analysis{Age: 21, FaceConf: 0.99, IsReal: &live, SpoofScore: 0.98}, nil
	}
	if image == "" {
		return nil, fmt.Errorf("image required")
	}

	payload := map[string]interface{}{
		"img":               image,
		"actions":           []string{"age"},
		"enforce_detection": true,
		"detector_backend":  DetectorBackend,
		"anti_spoofing":     true,
	}
	var out struct {
		Results []Analysis `json:"results"`
	}
	if err := c.post(ctx, "/analyze", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, &EngineError{Status: http.StatusOK, Code: "no_face", Message: "no face detected in image"}
	}
	a := &out.Results[0]
	if a.IsReal != nil && !*a.IsReal {
		return nil, &EngineError{Status: http.StatusOK, Code: "spoof", Message: "Spoof detected in the given image."}
	}
	return a, nil
}

// Verify compares the stored reference against a live probe image.
func (c *Client) Verify(ctx context.Context, reference, probe string) (*Verification, error) {
	if c.Skip {
		return &Verification{Verified: true, Distance: 0.42, Threshold: 1.04, Model: ModelName, Metric: DistanceMetric}, nil
	}

	payload := map[string]interface{}{
		"img1":              reference,
		"img2":              probe,
		"enforce_detection": true,
		"anti_spoofing":     true,
		"detector_backend":  DetectorBackend,
		"model_name":        ModelName,
		"distance_metric":   DistanceMetric,
	}
	var out Verification
	if err := c.post(ctx, "/verify", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	ee := &EngineError{Status: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Arg     string `json:"arg"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		ee.Code = body.Code
		ee.Arg = body.Arg
		ee.Message = body.Error
		if ee.Message == "" {
			ee.Message = body.Message
		}
	}
	if ee.Message == "" {
		ee.Message = strings.TrimSpace(string(raw))
	}
	if ee.Message == "" {
		ee.Message = resp.Status
	}
	return ee
}
